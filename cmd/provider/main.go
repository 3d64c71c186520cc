package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"oidcprovider/internal/app"
	"oidcprovider/internal/config"
	"oidcprovider/internal/lib/logger"
)

func main() {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	cfg := config.MustLoad()

	log := logger.Setup(cfg.Env)

	log.Info("starting application...",
		slog.String("env", cfg.Env),
		slog.String("issuer", cfg.Issuer),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("keys", cfg.Keys.Backend),
		slog.Bool("redis", cfg.Redis.Enabled),
		slog.String("http", cfg.HTTP.Address),
		slog.Int("grpc", cfg.GRPC.Port),
	)

	application := app.New(context.Background(), log, cfg)

	go application.GRPCSrv.MustRun()
	go application.HTTPSrv.MustRun()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)

	sign := <-stop
	application.Stop()
	log.Info("application stopped.", slog.String("signal", sign.String()))
}

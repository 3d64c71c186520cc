package grpcapp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"oidcprovider/internal/app/interceptors"
)

// ServiceName is the health service name the provider reports under
const ServiceName = "oidc.Provider"

type Pinger interface {
	Ping(ctx context.Context) error
}

type App struct {
	log        *slog.Logger
	gRPCServer *grpc.Server
	health     *health.Server
	port       int
}

// New creates new gRPC server app exposing the health service
func New(log *slog.Logger, port int) *App {
	gRPCServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		interceptors.LoggingInterceptor(log),
	))

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gRPCServer, hs)
	reflection.Register(gRPCServer)

	return &App{
		log:        log,
		gRPCServer: gRPCServer,
		health:     hs,
		port:       port,
	}
}

// WatchStore flips the health status with the store's availability until ctx is done
func (a *App) WatchStore(ctx context.Context, store Pinger, interval, timeout time.Duration) {
	const op = "grpcapp.WatchStore"

	log := a.log.With(slog.String("op", op))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	serving := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		err := store.Ping(pingCtx)
		cancel()

		switch {
		case err != nil && serving:
			log.Warn("store unreachable, reporting NOT_SERVING", slog.String("error", err.Error()))
			a.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
			serving = false
		case err == nil && !serving:
			log.Info("store reachable again, reporting SERVING")
			a.setStatus(healthpb.HealthCheckResponse_SERVING)
			serving = true
		}
	}
}

func (a *App) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	a.health.SetServingStatus("", status)
	a.health.SetServingStatus(ServiceName, status)
}

// MustRun runs gRPC server and panic if any occurs
func (a *App) MustRun() {
	if err := a.Run(); err != nil {
		panic(err)
	}
}

// Run grpc server
func (a *App) Run() error {
	const op = "grpcapp.Run"

	log := a.log.With(slog.String("op", op),
		slog.Int("port", a.port),
	)

	l, err := net.Listen("tcp", fmt.Sprintf(":%d", a.port))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("starting gRPC server", slog.String("addr", l.Addr().String()))

	return a.Serve(l)
}

// Serve accepts connections on l until Stop
func (a *App) Serve(l net.Listener) error {
	const op = "grpcapp.Serve"

	if err := a.gRPCServer.Serve(l); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Stop grpc server
func (a *App) Stop() {
	const op = "grpcapp.Stop"

	a.log.With(slog.String("op", op)).Info("stopping gRPC server")
	a.health.Shutdown()
	a.gRPCServer.GracefulStop()
}

package logger

import (
	"io"
	"log/slog"
	"os"

	"oidcprovider/internal/config"
)

// Setup builds the process logger for env: text for local runs, JSON elsewhere
func Setup(env string) *slog.Logger {
	return New(env, os.Stdout)
}

func New(env string, w io.Writer) *slog.Logger {
	var log *slog.Logger

	switch env {
	case config.EnvLocal:
		log = slog.New(
			slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case config.EnvDev:
		log = slog.New(
			slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}

package httpapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	log    *slog.Logger
	server *http.Server
}

// New creates new HTTP server app around handler
func New(log *slog.Logger, address string, handler http.Handler, readTimeout, writeTimeout time.Duration) *App {
	return &App{
		log: log,
		server: &http.Server{
			Addr:              address,
			Handler:           handler,
			ReadTimeout:       readTimeout,
			ReadHeaderTimeout: readTimeout,
			WriteTimeout:      writeTimeout,
		},
	}
}

// MustRun runs HTTP server and panic if any occurs
func (a *App) MustRun() {
	if err := a.Run(); err != nil {
		panic(err)
	}
}

// Run http server
func (a *App) Run() error {
	const op = "httpapp.Run"

	l, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	a.log.With(slog.String("op", op)).Info("starting HTTP server", slog.String("addr", l.Addr().String()))

	if err := a.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Stop drains in-flight requests, then closes the listener
func (a *App) Stop() {
	const op = "httpapp.Stop"

	log := a.log.With(slog.String("op", op))
	log.Info("stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", slog.String("error", err.Error()))
	}
}

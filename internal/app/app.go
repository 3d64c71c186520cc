package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	grpcapp "oidcprovider/internal/app/grpc"
	httpapp "oidcprovider/internal/app/http"
	"oidcprovider/internal/config"
	"oidcprovider/internal/domain/scope"
	"oidcprovider/internal/http/handlers"
	"oidcprovider/internal/metrics"
	"oidcprovider/internal/services/assertion"
	"oidcprovider/internal/services/clients"
	"oidcprovider/internal/services/consent"
	"oidcprovider/internal/services/keys"
	"oidcprovider/internal/services/provider"
	"oidcprovider/internal/services/session"
	"oidcprovider/internal/services/tokens"
)

const healthInterval = 10 * time.Second

type App struct {
	GRPCSrv *grpcapp.App
	HTTPSrv *httpapp.App

	stores *Stores
	cancel context.CancelFunc
}

// New wires the provider; it panics when a backend cannot be reached
func New(ctx context.Context, log *slog.Logger, cfg *config.Config) *App {
	stores, err := OpenStores(ctx, log, cfg)
	if err != nil {
		panic(err)
	}

	registrable, unknown := scope.FromStrings(cfg.OAuth.RegistrableScopes)
	if len(unknown) > 0 {
		log.Warn("ignoring unknown registrable scopes", slog.Any("scopes", unknown))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collectorsSet := metrics.New(reg)

	keyProvider := keys.New(log, stores.Keys, stores.Publisher).WithRetention(cfg.OAuth.AccessTokenTTL)
	if err := keyProvider.Reload(ctx); err != nil {
		panic(err)
	}

	clientRegistry := clients.New(log, stores.Clients, stores.ClientsRO, registrable, cfg.OAuth.MaxClientsPerUser)
	consentStore := consent.New(log, stores.Consents)
	tokenService := tokens.New(
		log,
		stores.Codes,
		stores.Tokens,
		cfg.OAuth.CodeTTL,
		cfg.OAuth.AccessTokenTTL,
		cfg.OAuth.RefreshTokenTTL,
	)
	builder := assertion.New(log, cfg.Issuer, stores.Users, keyProvider, cfg.OAuth.SubjectSecret, cfg.OAuth.AccessTokenTTL)
	sessions := session.New(log, stores.Sessions, cfg.OAuth.SessionMaxAge)

	oauth := provider.New(
		log,
		clientRegistry,
		consentStore,
		tokenService,
		builder,
		stores.Users,
		stores.Pending,
		collectorsSet,
		provider.Options{
			Issuer:     cfg.Issuer,
			LoginURL:   cfg.OAuth.LoginURL,
			ConsentURL: cfg.OAuth.ConsentURL,
			PendingTTL: cfg.OAuth.PendingTTL,
		},
	)

	h := handlers.New(log, oauth, keyProvider, clientRegistry, consentStore, stores.Health, cfg.Issuer)
	router := h.Routes(handlers.RouterOptions{
		Sessions:       sessions,
		Observer:       collectorsSet,
		Metrics:        collectorsSet.Handler(),
		RequestTimeout: cfg.HTTP.RequestTimeout,
	})

	a := &App{
		GRPCSrv: grpcapp.New(log, cfg.GRPC.Port),
		HTTPSrv: httpapp.New(log, cfg.HTTP.Address, router, cfg.HTTP.ReadTimeout, cfg.HTTP.WriteTimeout),
		stores:  stores,
	}

	bg, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	go keyProvider.Watch(bg, cfg.Keys.WatchInterval, stores.Subscriber)
	go runJanitor(bg, log, stores.Purger, cfg.Storage.PurgeInterval)
	go a.GRPCSrv.WatchStore(bg, stores.Health, healthInterval, cfg.GRPC.Timeout)

	return a
}

// Stop shuts the servers down, then the background loops and the stores
func (a *App) Stop() {
	a.HTTPSrv.Stop()
	a.GRPCSrv.Stop()
	a.cancel()
	a.stores.Close()
}

package app

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"oidcprovider/internal/config"
	clientsif "oidcprovider/internal/services/clients/interfaces"
	consentif "oidcprovider/internal/services/consent/interfaces"
	keysif "oidcprovider/internal/services/keys/interfaces"
	providerif "oidcprovider/internal/services/provider/interfaces"
	sessionif "oidcprovider/internal/services/session/interfaces"
	tokensif "oidcprovider/internal/services/tokens/interfaces"
	"oidcprovider/internal/storage/memory"
	"oidcprovider/internal/storage/postgres"
	"oidcprovider/internal/storage/protected"
	"oidcprovider/internal/storage/protected/vault"
	"oidcprovider/internal/storage/redis"
	"oidcprovider/internal/storage/repositories"
	"oidcprovider/internal/storage/repositories/cached"
)

type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Stores is every persistence collaborator, chosen by configuration
type Stores struct {
	Users      providerif.UserProvider
	Clients    clientsif.ClientStorage
	ClientsRO  clientsif.ClientProvider
	Consents   consentif.ConsentStorage
	Codes      tokensif.CodeStorage
	Tokens     tokensif.TokenStorage
	Keys       keysif.KeyStorage
	Pending    providerif.PendingStorage
	Sessions   sessionif.SessionStorage
	Purger     Purger
	Health     Pinger
	Publisher  keysif.RotationPublisher
	Subscriber keysif.RotationSubscriber

	closers []func()
}

// Close releases pools and connections in reverse order of opening
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// OpenStores connects the configured storage driver, redis and key backend
func OpenStores(ctx context.Context, log *slog.Logger, cfg *config.Config) (*Stores, error) {
	const op = "app.OpenStores"

	log = log.With(slog.String("op", op))
	s := &Stores{}

	var (
		mem  *memory.Storage
		pool *postgres.ExtPool
	)
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		var err error
		pool, err = postgres.New(ctx, cfg.Storage.DSN, cfg.Storage.QueryTimeout)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		s.closers = append(s.closers, pool.Close)

		clients := repositories.NewClientRepository(pool)
		tokens := repositories.NewTokenRepository(pool)
		s.Users = repositories.NewUserRepository(pool)
		s.Clients = clients
		s.ClientsRO = clients
		s.Consents = repositories.NewConsentRepository(pool)
		s.Codes = repositories.NewAuthCodeRepository(pool)
		s.Tokens = tokens
		s.Purger = tokens
		s.Health = pool
	default:
		mem = memory.New()
		s.Users = mem
		s.Clients = mem
		s.ClientsRO = mem
		s.Consents = mem
		s.Codes = mem
		s.Tokens = mem
		s.Purger = mem
		s.Health = mem
		s.Sessions = mem
		s.Pending = mem
		log.Warn("using in-memory storage, nothing survives a restart")
	}

	if cfg.Redis.Enabled {
		rdb, err := redis.NewClient(ctx, &cfg.Redis)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		s.closers = append(s.closers, func() { _ = rdb.Close() })
		s.useRedis(log, rdb, cfg)
	}
	if s.Pending == nil || s.Sessions == nil {
		// without redis one replica keeps pending consents in process
		if mem == nil {
			mem = memory.New()
		}
		if s.Pending == nil {
			s.Pending = mem
		}
		if s.Sessions == nil {
			s.Sessions = mem
		}
		log.Warn("redis disabled, pending consents and sessions are process local")
	}

	keys, err := openKeyStorage(ctx, cfg, pool, mem)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.Keys = keys

	return s, nil
}

func (s *Stores) useRedis(log *slog.Logger, rdb goredis.UniversalClient, cfg *config.Config) {
	s.Pending = redis.NewPendingRepository(rdb)
	s.Sessions = redis.NewSessionRepository(rdb)
	notifier := redis.NewKeyRotationNotifier(rdb)
	s.Publisher = notifier
	s.Subscriber = notifier

	if store, ok := s.Clients.(cached.ClientStore); ok && cfg.Redis.ClientCacheTTL > 0 {
		c := cached.NewClientCachedRepository(log, store, redis.NewCacheWrapper(rdb, cfg.Redis.ClientCacheTTL))
		s.Clients = c
		s.ClientsRO = c
	}
}

func openKeyStorage(ctx context.Context, cfg *config.Config, pool *postgres.ExtPool, mem *memory.Storage) (keysif.KeyStorage, error) {
	switch cfg.Keys.Backend {
	case config.DriverPostgres:
		if pool == nil {
			return nil, fmt.Errorf("postgres key backend without postgres storage")
		}
		return repositories.NewSigningKeyRepository(pool), nil
	case config.DriverVault:
		v, err := protected.NewVaultClient(ctx, &cfg.Keys.Vault)
		if err != nil {
			return nil, err
		}
		return vault.NewKeyStore(v), nil
	default:
		if mem == nil {
			mem = memory.New()
		}
		return mem, nil
	}
}

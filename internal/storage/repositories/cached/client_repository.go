package cached

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"oidcprovider/internal/domain/models"
	"oidcprovider/internal/storage"
	redis2 "oidcprovider/internal/storage/redis"
)

// ClientStore is the uncached client repository
type ClientStore interface {
	ClientByClientID(ctx context.Context, clientID string) (*models.Client, error)
	ClientsByOwner(ctx context.Context, ownerID int64) ([]models.Client, error)
	CreateClient(ctx context.Context, client *models.Client, limit int) (int64, error)
	UpdateClient(ctx context.Context, client *models.Client) error
	DeleteClient(ctx context.Context, ownerID int64, clientID string) (bool, error)
	TouchClient(ctx context.Context, id int64, at time.Time) error
}

// cachedClient carries the fields json tags hide on models.Client
type cachedClient struct {
	models.Client
	ID         int64  `json:"id"`
	SecretHash []byte `json:"secret_hash"`
}

// ClientCachedRepository serves client lookups from redis, falling back to the store
type ClientCachedRepository struct {
	ClientStore
	log   *slog.Logger
	cache *redis2.CacheWrapper
}

// NewClientCachedRepository creates an instance of ClientCachedRepository
func NewClientCachedRepository(log *slog.Logger, db ClientStore, cache *redis2.CacheWrapper) *ClientCachedRepository {
	return &ClientCachedRepository{
		ClientStore: db,
		log:         log,
		cache:       cache,
	}
}

// ClientByClientID gets a client, lazily filling the cache
func (r *ClientCachedRepository) ClientByClientID(ctx context.Context, clientID string) (*models.Client, error) {
	const op = "storage.repositories.cached.ClientByClientID"

	log := r.log.With(slog.String("op", op))
	cacheKey := redis2.ClientCacheKey(clientID)

	var cc cachedClient
	err := r.cache.Get(ctx, cacheKey, &cc)
	if err == nil {
		client := cc.Client
		client.ID = cc.ID
		client.SecretHash = cc.SecretHash
		return &client, nil
	}
	if !errors.Is(err, storage.InfoCacheKeyNotFound) && !errors.Is(err, storage.InfoCacheDisabled) {
		log.Warn("client cache read failed", slog.String("error", err.Error()))
	}

	client, err := r.ClientStore.ClientByClientID(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Set(ctx, cacheKey, cachedClient{Client: *client, ID: client.ID, SecretHash: client.SecretHash}); err != nil &&
		!errors.Is(err, storage.InfoCacheDisabled) {
		log.Warn("client cache write failed", slog.String("error", err.Error()))
	}
	return client, nil
}

// UpdateClient writes through and drops the cached copy
func (r *ClientCachedRepository) UpdateClient(ctx context.Context, client *models.Client) error {
	if err := r.ClientStore.UpdateClient(ctx, client); err != nil {
		return err
	}
	r.invalidate(ctx, client.ClientID)
	return nil
}

// DeleteClient deletes and drops the cached copy
func (r *ClientCachedRepository) DeleteClient(ctx context.Context, ownerID int64, clientID string) (bool, error) {
	deleted, err := r.ClientStore.DeleteClient(ctx, ownerID, clientID)
	if err != nil {
		return false, err
	}
	if deleted {
		r.invalidate(ctx, clientID)
	}
	return deleted, nil
}

func (r *ClientCachedRepository) invalidate(ctx context.Context, clientID string) {
	const op = "storage.repositories.cached.invalidate"

	if err := r.cache.Invalidate(ctx, redis2.ClientCacheKey(clientID)); err != nil && !errors.Is(err, storage.InfoCacheDisabled) {
		r.log.With(slog.String("op", op)).Warn("client cache invalidation failed", slog.String("error", err.Error()))
	}
}

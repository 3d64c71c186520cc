package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"oidcprovider/internal/config"
	"oidcprovider/internal/storage"
)

// Key prefixes
// -- oc: OAuth client lookup cache
// -- pa: Pending authorization awaiting consent
// -- us: User session (active session of the platform login)
const (
	clientKey  = "oc"
	pendingKey = "pa"
	sessionKey = "us"
)

// rotationChannel carries signing key rotation announcements
const rotationChannel = "oidc:keys:rotated"

// NewClient connects to redis and verifies the connection
func NewClient(ctx context.Context, conf *config.RedisConfig) (*redis.Client, error) {
	const op = "storage.redis.NewClient"

	rdb := redis.NewClient(&redis.Options{
		Addr:     conf.Host + ":" + strconv.Itoa(conf.Port),
		Password: conf.Password,
		DB:       conf.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rdb, nil
}

func key(prefix, id string) string {
	return prefix + ":" + id
}

// CacheWrapper stores JSON values with a default TTL
type CacheWrapper struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewCacheWrapper creates a cache; a nil client yields a disabled cache
func NewCacheWrapper(rdb redis.UniversalClient, ttl time.Duration) *CacheWrapper {
	return &CacheWrapper{rdb: rdb, ttl: ttl}
}

// Get decodes the cached value into dest
func (c *CacheWrapper) Get(ctx context.Context, key string, dest any) error {
	if c == nil || c.rdb == nil {
		return storage.InfoCacheDisabled
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return storage.InfoCacheKeyNotFound
		}
		return err
	}
	return json.Unmarshal(raw, dest)
}

// Set caches value under key for the default TTL
func (c *CacheWrapper) Set(ctx context.Context, key string, value any) error {
	if c == nil || c.rdb == nil {
		return storage.InfoCacheDisabled
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, raw, c.ttl).Err()
}

// Invalidate drops a cached key
func (c *CacheWrapper) Invalidate(ctx context.Context, key string) error {
	if c == nil || c.rdb == nil {
		return storage.InfoCacheDisabled
	}
	return c.rdb.Del(ctx, key).Err()
}

// ClientCacheKey is the cache key of a client looked up by its external id
func ClientCacheKey(clientID string) string {
	return key(clientKey, clientID)
}

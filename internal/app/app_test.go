package app

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oidcprovider/internal/config"
	"oidcprovider/internal/storage/memory"
	"oidcprovider/internal/storage/redis"
	"oidcprovider/internal/storage/repositories/cached"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func memoryConfig() *config.Config {
	cfg := config.MustLoadPath("../../config/test.yaml")
	cfg.Storage.Driver = config.DriverMemory
	cfg.Keys.Backend = config.DriverMemory
	cfg.Redis.Enabled = false
	return cfg
}

func TestOpenStoresMemory(t *testing.T) {
	t.Parallel()

	stores, err := OpenStores(context.Background(), discard(), memoryConfig())
	require.NoError(t, err)
	t.Cleanup(stores.Close)

	mem, ok := stores.Clients.(*memory.Storage)
	require.True(t, ok)
	assert.Same(t, mem, stores.Pending)
	assert.Same(t, mem, stores.Sessions)
	assert.Same(t, mem, stores.Keys)
	assert.Nil(t, stores.Publisher)
	assert.NoError(t, stores.Health.Ping(context.Background()))
}

func TestOpenStoresRedis(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	cfg := memoryConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Host = mr.Host()
	cfg.Redis.Port = port
	cfg.Redis.ClientCacheTTL = time.Minute

	stores, err := OpenStores(context.Background(), discard(), cfg)
	require.NoError(t, err)
	t.Cleanup(stores.Close)

	assert.IsType(t, &redis.PendingRepository{}, stores.Pending)
	assert.IsType(t, &redis.SessionRepository{}, stores.Sessions)
	assert.NotNil(t, stores.Publisher)
	assert.NotNil(t, stores.Subscriber)
	assert.IsType(t, &cached.ClientCachedRepository{}, stores.Clients)
	assert.Same(t, stores.Clients, stores.ClientsRO)
}

func TestOpenStoresRedisUnreachable(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	mr.Close()

	cfg := memoryConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Host = mr.Host()
	cfg.Redis.Port = port

	_, err = OpenStores(context.Background(), discard(), cfg)
	require.Error(t, err)
}

type countingPurger struct {
	calls atomic.Int32
}

func (p *countingPurger) PurgeExpired(context.Context) (int64, error) {
	p.calls.Add(1)
	return 2, nil
}

func TestJanitorPurgesUntilCancelled(t *testing.T) {
	t.Parallel()

	p := &countingPurger{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runJanitor(ctx, discard(), p, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return p.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

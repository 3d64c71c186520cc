package cached

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oidcprovider/internal/domain/models"
	"oidcprovider/internal/domain/scope"
	"oidcprovider/internal/storage/memory"
	redis2 "oidcprovider/internal/storage/redis"
)

func TestClientCachedRepository(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := memory.New()
	repo := NewClientCachedRepository(
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		store,
		redis2.NewCacheWrapper(rdb, time.Minute),
	)
	ctx := context.Background()

	client := &models.Client{
		ClientID:     "cid",
		OwnerID:      1,
		Name:         "demo",
		SecretHash:   []byte("secret-hash"),
		RedirectURIs: []string{"https://rp.example/cb"},
		Scope:        scope.NewSet(scope.OpenID, scope.Profile),
	}
	_, err := repo.CreateClient(ctx, client, 5)
	require.NoError(t, err)

	got, err := repo.ClientByClientID(ctx, "cid")
	require.NoError(t, err)
	assert.True(t, mr.Exists(redis2.ClientCacheKey("cid")))

	cachedCopy, err := repo.ClientByClientID(ctx, "cid")
	require.NoError(t, err)
	assert.Equal(t, got.ID, cachedCopy.ID)
	assert.Equal(t, got.SecretHash, cachedCopy.SecretHash)
	assert.Equal(t, got.Scope, cachedCopy.Scope)

	client.Name = "renamed"
	require.NoError(t, repo.UpdateClient(ctx, client))
	assert.False(t, mr.Exists(redis2.ClientCacheKey("cid")))

	got, err = repo.ClientByClientID(ctx, "cid")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)

	deleted, err := repo.DeleteClient(ctx, 1, "cid")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, mr.Exists(redis2.ClientCacheKey("cid")))
}

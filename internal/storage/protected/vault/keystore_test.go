package vault

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oidcprovider/internal/domain/models"
	"oidcprovider/internal/storage/protected"
)

// fakeKV serves the subset of the KV v2 api the key store uses
type fakeKV struct {
	mu      sync.Mutex
	data    map[string]interface{}
	version int
}

func (f *fakeKV) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/v1/secret/data/oidc/signing-keys" && r.Method == http.MethodGet:
		if f.data == nil {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"data":     f.data,
				"metadata": map[string]interface{}{"version": f.version},
			},
		})
	case r.URL.Path == "/v1/secret/data/oidc/signing-keys" && (r.Method == http.MethodPost || r.Method == http.MethodPut):
		var body struct {
			Data map[string]interface{} `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.data = body.Data
		f.version++
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"version": f.version},
		})
	case r.URL.Path == "/v1/secret/metadata/oidc/signing-keys" && r.Method == http.MethodDelete:
		f.data = nil
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errors":[]}`))
	}
}

func newTestKeyStore(t *testing.T) *KeyStore {
	t.Helper()
	srv := httptest.NewServer(&fakeKV{})
	t.Cleanup(srv.Close)

	client, err := vault.New(vault.WithAddress(srv.URL), vault.WithRequestTimeout(5*time.Second))
	require.NoError(t, err)
	require.NoError(t, client.SetToken("test-token"))
	return NewKeyStore(&protected.Vault{Client: client, Mount: "secret", Path: "oidc/signing-keys"})
}

func TestKeyStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := newTestKeyStore(t)
	ctx := context.Background()

	keys, err := store.SigningKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	older, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	newer, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.SaveSigningKey(ctx, &models.SigningKey{KeyID: "k1", PrivateKey: older, CreatedAt: now.Add(-time.Hour)}))
	require.NoError(t, store.SaveSigningKey(ctx, &models.SigningKey{KeyID: "k2", PrivateKey: newer, CreatedAt: now}))

	keys, err = store.SigningKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "k2", keys[0].KeyID)
	assert.True(t, newer.Equal(keys[0].PrivateKey))
	assert.Equal(t, "k1", keys[1].KeyID)

	require.NoError(t, store.DeleteSigningKey(ctx, "k1"))
	require.NoError(t, store.DeleteSigningKey(ctx, "missing"))
	keys, err = store.SigningKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "k2", keys[0].KeyID)
	require.NoError(t, store.SaveSigningKey(ctx, &models.SigningKey{KeyID: "k1", PrivateKey: older, CreatedAt: now.Add(-time.Hour)}))

	n, err := store.DeleteSigningKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	keys, err = store.SigningKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

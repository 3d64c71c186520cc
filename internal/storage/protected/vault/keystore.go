package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/hashicorp/vault-client-go/schema"

	"oidcprovider/internal/domain/models"
	"oidcprovider/internal/lib/keyenc"
	"oidcprovider/internal/storage/protected"
)

// keysField holds the JSON encoded key list inside the KV secret
const keysField = "keys"

type storedKey struct {
	KeyID      string    `json:"kid"`
	PrivatePEM string    `json:"private_pem"`
	CreatedAt  time.Time `json:"created_at"`
}

// KeyStore keeps signing keys as a single Vault KV v2 secret
type KeyStore struct {
	v *protected.Vault
}

// NewKeyStore creates new instance of KeyStore
func NewKeyStore(v *protected.Vault) *KeyStore {
	return &KeyStore{v: v}
}

func (s *KeyStore) read(ctx context.Context) ([]storedKey, error) {
	resp, err := s.v.Client.Secrets.KvV2Read(ctx, s.v.Path, vault.WithMountPath(s.v.Mount))
	if err != nil {
		if vault.IsErrorStatus(err, http.StatusNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if resp == nil || resp.Data.Data == nil {
		return nil, nil
	}
	raw, ok := resp.Data.Data[keysField].(string)
	if !ok {
		return nil, fmt.Errorf("secret field %q is missing or not a string", keysField)
	}
	var stored []storedKey
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, fmt.Errorf("decode keys: %w", err)
	}
	return stored, nil
}

// SigningKeys returns every stored key, newest first
func (s *KeyStore) SigningKeys(ctx context.Context) ([]models.SigningKey, error) {
	const op = "storage.protected.vault.SigningKeys"

	stored, err := s.read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	keys := make([]models.SigningKey, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		priv, err := keyenc.DecodePrivateKey(stored[i].PrivatePEM)
		if err != nil {
			return nil, fmt.Errorf("%s: key %s: %w", op, stored[i].KeyID, err)
		}
		keys = append(keys, models.SigningKey{KeyID: stored[i].KeyID, PrivateKey: priv, CreatedAt: stored[i].CreatedAt})
	}
	return keys, nil
}

// SaveSigningKey appends a key to the secret, creating a new secret version
func (s *KeyStore) SaveSigningKey(ctx context.Context, key *models.SigningKey) error {
	const op = "storage.protected.vault.SaveSigningKey"

	stored, err := s.read(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	stored = append(stored, storedKey{
		KeyID:      key.KeyID,
		PrivatePEM: keyenc.EncodePrivateKey(key.PrivateKey),
		CreatedAt:  key.CreatedAt,
	})
	if err := s.write(ctx, stored); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DeleteSigningKey rewrites the secret without keyID
func (s *KeyStore) DeleteSigningKey(ctx context.Context, keyID string) error {
	const op = "storage.protected.vault.DeleteSigningKey"

	stored, err := s.read(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	idx := slices.IndexFunc(stored, func(k storedKey) bool { return k.KeyID == keyID })
	if idx < 0 {
		return nil
	}
	if err := s.write(ctx, slices.Delete(stored, idx, idx+1)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *KeyStore) write(ctx context.Context, stored []storedKey) error {
	raw, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	_, err = s.v.Client.Secrets.KvV2Write(
		ctx,
		s.v.Path,
		schema.KvV2WriteRequest{Data: map[string]interface{}{keysField: string(raw)}},
		vault.WithMountPath(s.v.Mount),
	)
	return err
}

// DeleteSigningKeys destroys the secret with all its versions
func (s *KeyStore) DeleteSigningKeys(ctx context.Context) (int, error) {
	const op = "storage.protected.vault.DeleteSigningKeys"

	stored, err := s.read(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if len(stored) == 0 {
		return 0, nil
	}
	if _, err := s.v.Client.Secrets.KvV2DeleteMetadataAndAllVersions(ctx, s.v.Path, vault.WithMountPath(s.v.Mount)); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return len(stored), nil
}

package repositories

import (
	"context"
	"fmt"

	"oidcprovider/internal/domain/models"
	"oidcprovider/internal/lib/keyenc"
	"oidcprovider/internal/storage/postgres"
)

// SigningKeyRepository persists signing keys in postgres
type SigningKeyRepository struct {
	db *postgres.ExtPool
}

// NewSigningKeyRepository creates new instance of SigningKeyRepository
func NewSigningKeyRepository(db *postgres.ExtPool) *SigningKeyRepository {
	return &SigningKeyRepository{
		db: db,
	}
}

// SigningKeys returns every stored key, newest first
func (r *SigningKeyRepository) SigningKeys(ctx context.Context) ([]models.SigningKey, error) {
	const op = "storage.repositories.SigningKeys"

	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	rows, err := r.db.Query(ctx, `SELECT kid, private_pem, created_at FROM oauth_signing_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var keys []models.SigningKey
	for rows.Next() {
		var (
			key models.SigningKey
			raw string
		)
		if err := rows.Scan(&key.KeyID, &raw, &key.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if key.PrivateKey, err = keyenc.DecodePrivateKey(raw); err != nil {
			return nil, fmt.Errorf("%s: key %s: %w", op, key.KeyID, err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return keys, nil
}

// SaveSigningKey stores a new keypair
func (r *SigningKeyRepository) SaveSigningKey(ctx context.Context, key *models.SigningKey) error {
	const op = "storage.repositories.SaveSigningKey"

	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	_, err := r.db.Exec(
		ctx,
		`INSERT INTO oauth_signing_keys (kid, private_pem, created_at) VALUES ($1, $2, $3)`,
		key.KeyID, keyenc.EncodePrivateKey(key.PrivateKey), key.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DeleteSigningKeys removes every stored key, forcing regeneration on next use
func (r *SigningKeyRepository) DeleteSigningKeys(ctx context.Context) (int, error) {
	const op = "storage.repositories.DeleteSigningKeys"

	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	tag, err := r.db.Exec(ctx, `DELETE FROM oauth_signing_keys`)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteSigningKey removes a single retired key
func (r *SigningKeyRepository) DeleteSigningKey(ctx context.Context, keyID string) error {
	const op = "storage.repositories.DeleteSigningKey"

	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	if _, err := r.db.Exec(ctx, `DELETE FROM oauth_signing_keys WHERE kid = $1`, keyID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

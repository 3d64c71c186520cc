package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"oidcprovider/internal/domain/models"
	"oidcprovider/internal/storage"
	"oidcprovider/internal/storage/postgres"
)

// TokenRepository keeps hashed access and refresh tokens
type TokenRepository struct {
	db *postgres.ExtPool
}

// NewTokenRepository creates new instance of TokenRepository
func NewTokenRepository(db *postgres.ExtPool) *TokenRepository {
	return &TokenRepository{
		db: db,
	}
}

// SaveToken persists a hashed token of either kind
func (r *TokenRepository) SaveToken(ctx context.Context, token *models.Token) error {
	const op = "storage.repositories.SaveToken"

	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	_, err := r.db.Exec(
		ctx,
		`INSERT INTO oauth_tokens (token_hash, kind, consent_id, scope, expires_at) VALUES ($1, $2, $3, $4, $5)`,
		token.TokenHash, string(token.Kind), token.ConsentID, token.Scope.Strings(), token.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ResolveAccessToken looks up an access token with its consent and client
func (r *TokenRepository) ResolveAccessToken(ctx context.Context, tokenHash string) (*models.ResolvedAccessToken, error) {
	const op = "storage.repositories.ResolveAccessToken"

	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	var (
		at                        models.ResolvedAccessToken
		sc, consentedSc, clientSc []string
	)
	err := r.db.QueryRow(
		ctx,
		`SELECT c.user_id, t.scope, c.scope, cl.scope, cl.client_id, cl.id, t.expires_at, c.expires_at
		FROM oauth_tokens t
		JOIN oauth_consents c ON c.id = t.consent_id
		JOIN oauth_clients cl ON cl.id = c.client_id
		WHERE t.token_hash = $1 AND t.kind = $2`,
		tokenHash, string(models.KindAccess),
	).Scan(&at.UserID, &sc, &consentedSc, &clientSc, &at.ClientID, &at.ClientInternalID, &at.ExpiresAt, &at.ConsentExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	at.Scope = toSet(sc)
	at.ConsentedScope = toSet(consentedSc)
	at.ClientScope = toSet(clientSc)
	return &at, nil
}

// RedeemRefreshToken deletes the refresh token and returns it joined with its consent in a single statement
func (r *TokenRepository) RedeemRefreshToken(ctx context.Context, tokenHash string) (*models.RedeemedRefreshToken, error) {
	const op = "storage.repositories.RedeemRefreshToken"

	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	var (
		rt              models.RedeemedRefreshToken
		sc, consentedSc []string
	)
	err := r.db.QueryRow(
		ctx,
		`DELETE FROM oauth_tokens AS t
		USING oauth_consents AS c
		WHERE t.token_hash = $1 AND t.kind = $2 AND t.consent_id = c.id
		RETURNING t.consent_id, t.scope, c.scope, c.user_id, c.client_id, t.expires_at, c.expires_at`,
		tokenHash, string(models.KindRefresh),
	).Scan(&rt.ConsentID, &sc, &consentedSc, &rt.UserID, &rt.ClientID, &rt.ExpiresAt, &rt.ConsentExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	rt.Scope = toSet(sc)
	rt.ConsentedScope = toSet(consentedSc)
	return &rt, nil
}

// PurgeExpired removes expired codes and tokens
func (r *TokenRepository) PurgeExpired(ctx context.Context) (int64, error) {
	const op = "storage.repositories.PurgeExpired"

	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	var purged int64
	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM oauth_tokens WHERE expires_at <= now()`)
		if err != nil {
			return err
		}
		purged += tag.RowsAffected()
		tag, err = tx.Exec(ctx, `DELETE FROM oauth_authorization_codes WHERE expires_at <= now()`)
		if err != nil {
			return err
		}
		purged += tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return purged, nil
}

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

// AuthCodeRepository keeps authorization codes between the authorize and token endpoints
type AuthCodeRepository struct {
	db *postgres.ExtPool
}

// NewAuthCodeRepository creates new instance of AuthCodeRepository
func NewAuthCodeRepository(db *postgres.ExtPool) *AuthCodeRepository {
	return &AuthCodeRepository{
		db: db,
	}
}

// SaveAuthCode persists a hashed authorization code
func (r *AuthCodeRepository) SaveAuthCode(ctx context.Context, code *models.AuthorizationCode) error {
	const op = "storage.repositories.SaveAuthCode"

	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	_, err := r.db.Exec(
		ctx,
		`INSERT INTO oauth_authorization_codes
			(code_hash, consent_id, scope, code_challenge, code_challenge_method, nonce, session_age, redirect_uri, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		code.CodeHash, code.ConsentID, code.Scope.Strings(), code.CodeChallenge, code.CodeChallengeMethod,
		code.Nonce, code.SessionAge, code.RedirectURI, code.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RedeemAuthCode deletes the code and returns it joined with its consent in a single statement,
// so of two concurrent redemptions only one gets a row back. Expiry is judged by the caller.
func (r *AuthCodeRepository) RedeemAuthCode(ctx context.Context, codeHash string) (*models.RedeemedCode, error) {
	const op = "storage.repositories.RedeemAuthCode"

	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	var (
		rc              models.RedeemedCode
		sc, consentedSc []string
	)
	err := r.db.QueryRow(
		ctx,
		`DELETE FROM oauth_authorization_codes AS ac
		USING oauth_consents AS c
		WHERE ac.code_hash = $1 AND ac.consent_id = c.id
		RETURNING ac.consent_id, ac.scope, c.scope, ac.code_challenge, ac.code_challenge_method, ac.nonce,
			ac.session_age, ac.redirect_uri, c.user_id, c.client_id, ac.expires_at, c.expires_at`,
		codeHash,
	).Scan(
		&rc.ConsentID, &sc, &consentedSc, &rc.CodeChallenge, &rc.CodeChallengeMethod, &rc.Nonce,
		&rc.SessionAge, &rc.RedirectURI, &rc.UserID, &rc.ClientID, &rc.ExpiresAt, &rc.ConsentExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	rc.Scope = toSet(sc)
	rc.ConsentedScope = toSet(consentedSc)
	return &rc, nil
}

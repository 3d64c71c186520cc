package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"oidcprovider/internal/domain/models"
	"oidcprovider/internal/domain/scope"
	"oidcprovider/internal/storage"
	"oidcprovider/internal/storage/postgres"
)

// ConsentRepository stores standing user grants
type ConsentRepository struct {
	db *postgres.ExtPool
}

// NewConsentRepository creates new instance of ConsentRepository
func NewConsentRepository(db *postgres.ExtPool) *ConsentRepository {
	return &ConsentRepository{
		db: db,
	}
}

// ConsentFor gets the consent of a (user, client) pair, expired or not
func (r *ConsentRepository) ConsentFor(ctx context.Context, userID, clientID int64) (*models.Consent, error) {
	const op = "storage.repositories.ConsentFor"

	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	var (
		c  models.Consent
		sc []string
	)
	err := r.db.QueryRow(
		ctx,
		`SELECT id, user_id, client_id, scope, consented_at, expires_at
		FROM oauth_consents WHERE user_id = $1 AND client_id = $2`,
		userID, clientID,
	).Scan(&c.ID, &c.UserID, &c.ClientID, &sc, &c.ConsentedAt, &c.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrConsentNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.Scope = toSet(sc)
	return &c, nil
}

// UpsertConsent writes a grant in one statement: a live row gets the scope union,
// an expired row is replaced outright
func (r *ConsentRepository) UpsertConsent(
	ctx context.Context,
	userID, clientID int64,
	sc scope.Set,
	expiresAt *time.Time,
	now time.Time,
) (int64, error) {
	const op = "storage.repositories.UpsertConsent"

	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	var id int64
	err := r.db.QueryRow(
		ctx,
		`INSERT INTO oauth_consents (user_id, client_id, scope, consented_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, client_id) DO UPDATE SET
			scope = CASE
				WHEN oauth_consents.expires_at IS NOT NULL AND oauth_consents.expires_at <= EXCLUDED.consented_at
					THEN EXCLUDED.scope
				ELSE ARRAY(SELECT DISTINCT unnest(oauth_consents.scope || EXCLUDED.scope))
			END,
			consented_at = EXCLUDED.consented_at,
			expires_at = EXCLUDED.expires_at
		RETURNING id`,
		userID, clientID, sc.Strings(), now, expiresAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

// DeleteConsent revokes a consent; only the granting user may do so
func (r *ConsentRepository) DeleteConsent(ctx context.Context, id, userID int64) (bool, error) {
	const op = "storage.repositories.DeleteConsent"

	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	tag, err := r.db.Exec(ctx, `DELETE FROM oauth_consents WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ConsentSummaries lists the live grants of a user, newest first
func (r *ConsentRepository) ConsentSummaries(ctx context.Context, userID int64, now time.Time) ([]models.ConsentSummary, error) {
	const op = "storage.repositories.ConsentSummaries"

	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	rows, err := r.db.Query(
		ctx,
		`SELECT c.id, cl.name, cl.image_url, COALESCE(cl.redirect_uris[1], ''), c.scope, c.expires_at
		FROM oauth_consents c
		JOIN oauth_clients cl ON cl.id = c.client_id
		WHERE c.user_id = $1 AND (c.expires_at IS NULL OR c.expires_at > $2)
		ORDER BY c.consented_at DESC`,
		userID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var summaries []models.ConsentSummary
	for rows.Next() {
		var (
			s  models.ConsentSummary
			sc []string
		)
		if err := rows.Scan(&s.ID, &s.ClientName, &s.ClientImage, &s.RedirectURI, &sc, &s.ExpiresAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		s.Scope = toSet(sc)
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return summaries, nil
}

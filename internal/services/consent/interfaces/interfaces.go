package interfaces

import (
	"context"
	"time"

	"oidcprovider/internal/domain/models"
	"oidcprovider/internal/domain/scope"
)

type ConsentStorage interface {
	// ConsentFor returns the row for the pair whether or not it has expired
	ConsentFor(ctx context.Context, userID, clientID int64) (*models.Consent, error)
	// UpsertConsent merges scope into a live row for the pair, or replaces an expired one
	UpsertConsent(ctx context.Context, userID, clientID int64, sc scope.Set, expiresAt *time.Time, now time.Time) (int64, error)
	DeleteConsent(ctx context.Context, id, userID int64) (bool, error)
	ConsentSummaries(ctx context.Context, userID int64, now time.Time) ([]models.ConsentSummary, error)
}

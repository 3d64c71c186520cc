package consent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"oidcprovider/internal/domain/models"
	"oidcprovider/internal/domain/scope"
	"oidcprovider/internal/lib/utilities"
	"oidcprovider/internal/services/consent/interfaces"
	"oidcprovider/internal/storage"
)

// Store records which scopes each user granted each client
type Store struct {
	log     *slog.Logger
	storage interfaces.ConsentStorage
	now     func() time.Time
}

// New returns a new instance of the consent Store
func New(log *slog.Logger, storage interfaces.ConsentStorage) *Store {
	return &Store{
		log:     log,
		storage: storage,
		now:     time.Now,
	}
}

// HasConsent returns the live consent of the pair, or nil when there is none or it expired
func (s *Store) HasConsent(ctx context.Context, userID, clientID int64) (*models.Consent, error) {
	const op = "consent.HasConsent"

	c, err := s.storage.ConsentFor(ctx, userID, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrConsentNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !c.Live(s.now()) {
		return nil, nil
	}
	return c, nil
}

// Grant records a consent and returns its id. Scope only grows: a live consent for the
// same pair gets the union. rememberFor nil means the grant never expires.
// existing, when it belongs to the pair and nothing would change, saves the write.
func (s *Store) Grant(
	ctx context.Context,
	clientID, userID int64,
	sc scope.Set,
	rememberFor *time.Duration,
	existing *models.Consent,
) (int64, error) {
	const op = "consent.Grant"

	log := s.log.With(slog.String("op", op), slog.Int64("user_id", userID), slog.Int64("client_id", clientID))

	now := s.now().UTC()
	var expiresAt *time.Time
	if rememberFor != nil {
		at := now.Add(*rememberFor)
		expiresAt = &at
	}

	if existing != nil && existing.UserID == userID && existing.ClientID == clientID && existing.Live(now) {
		unchanged := existing.Scope.Union(sc).Equal(existing.Scope)
		if unchanged && expiresAt == nil && existing.ExpiresAt == nil {
			return existing.ID, nil
		}
	}

	id, err := s.storage.UpsertConsent(ctx, userID, clientID, sc, expiresAt, now)
	if err != nil {
		log.Error("failed to write consent", slog.String("error", err.Error()))
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	log.Info("consent granted", slog.Int64("consent_id", id), slog.String("scope", sc.String()))
	return id, nil
}

// Revoke deletes a consent granted by userID, along with its codes and tokens
func (s *Store) Revoke(ctx context.Context, id, userID int64) (bool, error) {
	const op = "consent.Revoke"

	ok, err := s.storage.DeleteConsent(ctx, id, userID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if ok {
		s.log.With(slog.String("op", op)).Info("consent revoked", slog.Int64("consent_id", id), slog.Int64("user_id", userID))
	}
	return ok, nil
}

// ListForUser returns the user's live consents
func (s *Store) ListForUser(ctx context.Context, userID int64) ([]models.ConsentSummary, error) {
	const op = "consent.ListForUser"

	summaries, err := s.storage.ConsentSummaries(ctx, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	for i := range summaries {
		summaries[i].Domain = utilities.Domain(summaries[i].RedirectURI)
	}
	return summaries, nil
}

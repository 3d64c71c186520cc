package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"oidcprovider/internal/domain/models"
	"oidcprovider/internal/services/session/interfaces"
	"oidcprovider/internal/storage"
)

// allowedSkew tolerates login hosts whose clocks run slightly ahead
const allowedSkew = time.Minute

// Session turns the platform session cookie into the current end-user identity
type Session struct {
	log     *slog.Logger
	storage interfaces.SessionStorage
	maxAge  time.Duration
	now     func() time.Time
}

// New returns a new instance of the Session resolver.
// A zero maxAge accepts sessions of any age.
func New(log *slog.Logger, storage interfaces.SessionStorage, maxAge time.Duration) *Session {
	return &Session{
		log:     log,
		storage: storage,
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Session resolves a session id. Unknown, future-dated and over-age sessions are all ErrSessionNotFound.
func (s *Session) Session(ctx context.Context, sessionID string) (*models.SessionIdentity, error) {
	const op = "session.Session"

	log := s.log.With(slog.String("op", op))

	if sessionID == "" {
		return nil, storage.ErrSessionNotFound
	}
	identity, err := s.storage.Session(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return nil, storage.ErrSessionNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now()
	if identity.AuthenticatedAt.After(now.Add(allowedSkew)) {
		log.Warn("session authenticated in the future", slog.Int64("user_id", identity.UserID))
		return nil, storage.ErrSessionNotFound
	}
	if s.maxAge > 0 && now.Sub(identity.AuthenticatedAt) > s.maxAge {
		log.Debug("session too old", slog.Int64("user_id", identity.UserID))
		return nil, storage.ErrSessionNotFound
	}
	return identity, nil
}

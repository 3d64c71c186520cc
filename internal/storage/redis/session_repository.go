package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"oidcprovider/internal/domain/models"
	"oidcprovider/internal/storage"
)

// Session hash fields written by the platform login
const (
	fieldUserID          = "user_id"
	fieldAuthenticatedAt = "authenticated_at"
)

// SessionRepository reads platform login sessions stored as us:<session id> hashes
type SessionRepository struct {
	rdb redis.UniversalClient
}

// NewSessionRepository creates new instance of SessionRepository
func NewSessionRepository(rdb redis.UniversalClient) *SessionRepository {
	return &SessionRepository{rdb: rdb}
}

// Session resolves the end-user behind a session id
func (r *SessionRepository) Session(ctx context.Context, sessionID string) (*models.SessionIdentity, error) {
	const op = "storage.redis.Session"

	fields, err := r.rdb.HGetAll(ctx, key(sessionKey, sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrSessionNotFound)
	}

	userID, err := strconv.ParseInt(fields[fieldUserID], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: malformed user_id: %w", op, storage.ErrSessionNotFound)
	}
	authAt, err := strconv.ParseInt(fields[fieldAuthenticatedAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: malformed authenticated_at: %w", op, storage.ErrSessionNotFound)
	}

	return &models.SessionIdentity{
		SessionID:       sessionID,
		UserID:          userID,
		AuthenticatedAt: time.Unix(authAt, 0),
	}, nil
}

// SaveSession writes a session hash; used by the platform login and by tests
func (r *SessionRepository) SaveSession(ctx context.Context, s *models.SessionIdentity, ttl time.Duration) error {
	const op = "storage.redis.SaveSession"

	k := key(sessionKey, s.SessionID)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, map[string]any{
			fieldUserID:          s.UserID,
			fieldAuthenticatedAt: s.AuthenticatedAt.Unix(),
		})
		pipe.Expire(ctx, k, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

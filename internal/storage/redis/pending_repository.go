package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"oidcprovider/internal/domain/models"
	"oidcprovider/internal/storage"
)

// PendingRepository parks authorization requests while the user is on the consent screen
type PendingRepository struct {
	rdb redis.UniversalClient
}

// NewPendingRepository creates new instance of PendingRepository
func NewPendingRepository(rdb redis.UniversalClient) *PendingRepository {
	return &PendingRepository{rdb: rdb}
}

// SavePending stores the request under its challenge for ttl
func (r *PendingRepository) SavePending(ctx context.Context, p *models.PendingAuthorization, ttl time.Duration) error {
	const op = "storage.redis.SavePending"

	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := r.rdb.Set(ctx, key(pendingKey, p.Challenge), raw, ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Pending reads a parked request without consuming it
func (r *PendingRepository) Pending(ctx context.Context, challenge string) (*models.PendingAuthorization, error) {
	const op = "storage.redis.Pending"

	raw, err := r.rdb.Get(ctx, key(pendingKey, challenge)).Bytes()
	return decodePending(op, raw, err)
}

// TakePending consumes a parked request; GETDEL makes a second take see nothing
func (r *PendingRepository) TakePending(ctx context.Context, challenge string) (*models.PendingAuthorization, error) {
	const op = "storage.redis.TakePending"

	raw, err := r.rdb.GetDel(ctx, key(pendingKey, challenge)).Bytes()
	return decodePending(op, raw, err)
}

func decodePending(op string, raw []byte, err error) (*models.PendingAuthorization, error) {
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrPendingNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var p models.PendingAuthorization
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &p, nil
}

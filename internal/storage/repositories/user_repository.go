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

// UserRepository reads platform accounts
type UserRepository struct {
	db *postgres.ExtPool
}

// NewUserRepository creates new instance of UserRepository
func NewUserRepository(db *postgres.ExtPool) *UserRepository {
	return &UserRepository{
		db: db,
	}
}

// UserByID gets a models.User by id
func (r *UserRepository) UserByID(ctx context.Context, id int64) (*models.User, error) {
	const op = "storage.repositories.UserByID"

	ctx, cancel := r.db.WithTimeout(ctx)
	defer cancel()

	var u models.User
	err := r.db.QueryRow(
		ctx,
		`SELECT id, username, display_name, email, email_verified, privilege, verified, created_at
		FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Username, &u.DisplayName, &u.Email, &u.EmailVerified, &u.Privilege, &u.Verified, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &u, nil
}

package interfaces

import (
	"context"

	"oidcprovider/internal/domain/models"
)

type UserProvider interface {
	UserByID(ctx context.Context, id int64) (*models.User, error)
}

type KeyProvider interface {
	Current(ctx context.Context) (*models.SigningKey, error)
}

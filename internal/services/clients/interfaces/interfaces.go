package interfaces

import (
	"context"
	"time"

	"oidcprovider/internal/domain/models"
)

type ClientStorage interface {
	// CreateClient inserts the client unless its owner already has limit clients
	CreateClient(ctx context.Context, client *models.Client, limit int) (int64, error)
	// UpdateClient overwrites the mutable fields of a client owned by client.OwnerID
	UpdateClient(ctx context.Context, client *models.Client) error
	DeleteClient(ctx context.Context, ownerID int64, clientID string) (bool, error)
	TouchClient(ctx context.Context, id int64, at time.Time) error
}

type ClientProvider interface {
	ClientByClientID(ctx context.Context, clientID string) (*models.Client, error)
	ClientsByOwner(ctx context.Context, ownerID int64) ([]models.Client, error)
}

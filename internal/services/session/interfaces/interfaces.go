package interfaces

import (
	"context"

	"oidcprovider/internal/domain/models"
)

// SessionStorage reads sessions written by the platform login
type SessionStorage interface {
	Session(ctx context.Context, sessionID string) (*models.SessionIdentity, error)
}

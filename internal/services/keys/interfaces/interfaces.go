package interfaces

import (
	"context"

	"oidcprovider/internal/domain/models"
)

// KeyStorage persists signing keypairs. SigningKeys returns newest first.
type KeyStorage interface {
	SigningKeys(ctx context.Context) ([]models.SigningKey, error)
	SaveSigningKey(ctx context.Context, key *models.SigningKey) error
	DeleteSigningKeys(ctx context.Context) (int, error)
	// DeleteSigningKey removes one key; a missing key is not an error
	DeleteSigningKey(ctx context.Context, keyID string) error
}

// RotationPublisher announces out-of-band key changes to running providers
type RotationPublisher interface {
	PublishRotation(ctx context.Context, keyID string) error
}

// RotationSubscriber delivers rotation announcements until ctx is done
type RotationSubscriber interface {
	SubscribeRotations(ctx context.Context) (<-chan string, error)
}

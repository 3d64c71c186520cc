package interfaces

import (
	"context"

	"oidcprovider/internal/domain/models"
)

// CodeStorage keeps authorization codes. RedeemAuthCode deletes and returns in one atomic step.
type CodeStorage interface {
	SaveAuthCode(ctx context.Context, code *models.AuthorizationCode) error
	RedeemAuthCode(ctx context.Context, codeHash string) (*models.RedeemedCode, error)
}

// TokenStorage keeps access and refresh tokens. RedeemRefreshToken deletes and returns in one atomic step.
type TokenStorage interface {
	SaveToken(ctx context.Context, token *models.Token) error
	ResolveAccessToken(ctx context.Context, tokenHash string) (*models.ResolvedAccessToken, error)
	RedeemRefreshToken(ctx context.Context, tokenHash string) (*models.RedeemedRefreshToken, error)
}

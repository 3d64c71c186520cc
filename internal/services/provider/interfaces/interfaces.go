package interfaces

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"oidcprovider/internal/domain/models"
	"oidcprovider/internal/domain/scope"
	"oidcprovider/internal/services/assertion"
	"oidcprovider/internal/services/tokens"
)

type ClientRegistry interface {
	Lookup(ctx context.Context, clientID string) (*models.Client, error)
	Authenticate(ctx context.Context, clientID, secret string) (*models.Client, error)
	Touch(ctx context.Context, id int64)
}

type ConsentStore interface {
	HasConsent(ctx context.Context, userID, clientID int64) (*models.Consent, error)
	Grant(ctx context.Context, clientID, userID int64, sc scope.Set, rememberFor *time.Duration, existing *models.Consent) (int64, error)
}

type TokenService interface {
	AccessTTL() time.Duration
	IssueCode(ctx context.Context, params tokens.CodeParams) (string, error)
	RedeemCode(ctx context.Context, code string) (*models.RedeemedCode, error)
	IssueAccessToken(ctx context.Context, consentID int64, sc scope.Set) (*tokens.Issued, error)
	IssueRefreshToken(ctx context.Context, consentID int64, sc scope.Set) (*tokens.Issued, error)
	ResolveAccessToken(ctx context.Context, token string) (*models.ResolvedAccessToken, error)
	RedeemRefreshToken(ctx context.Context, token string) (*models.RedeemedRefreshToken, error)
}

type AssertionBuilder interface {
	Build(ctx context.Context, req assertion.Request) (string, error)
	Claims(ctx context.Context, userID int64, clientID string, sc scope.Set) (jwt.MapClaims, error)
}

type UserProvider interface {
	UserByID(ctx context.Context, id int64) (*models.User, error)
}

// PendingStorage parks authorization requests awaiting a consent decision.
// TakePending must consume atomically.
type PendingStorage interface {
	SavePending(ctx context.Context, p *models.PendingAuthorization, ttl time.Duration) error
	Pending(ctx context.Context, challenge string) (*models.PendingAuthorization, error)
	TakePending(ctx context.Context, challenge string) (*models.PendingAuthorization, error)
}

type Metrics interface {
	TokenIssued(grantType, kind string)
	RedemptionFailed(artifact, reason string)
}

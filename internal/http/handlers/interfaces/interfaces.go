package interfaces

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/jwk"

	"oidcprovider/internal/domain/models"
	"oidcprovider/internal/domain/scope"
	"oidcprovider/internal/services/provider"
)

type OAuthProvider interface {
	ValidateAuthorizeRequest(ctx context.Context, params provider.AuthorizeParams) (*models.AuthorizationRequest, error)
	Authorize(ctx context.Context, req *models.AuthorizationRequest, session *models.SessionIdentity, returnTo string) (string, error)
	PendingDetails(ctx context.Context, challenge string, session *models.SessionIdentity) (*provider.ConsentPrompt, error)
	ApproveConsent(ctx context.Context, challenge string, session *models.SessionIdentity, decision provider.ConsentDecision) (string, error)
	Exchange(ctx context.Context, req provider.TokenRequest) (*provider.TokenResponse, error)
	ClaimsFor(ctx context.Context, at *models.ResolvedAccessToken) (jwt.MapClaims, error)
	ResolveBearer(ctx context.Context, token string, required ...scope.Scope) (*models.ResolvedAccessToken, error)
}

type KeySet interface {
	PublicKeySet(ctx context.Context) (jwk.Set, error)
}

type ClientManager interface {
	Register(ctx context.Context, reg models.ClientRegistration) (*models.ClientCredentials, error)
	Delete(ctx context.Context, ownerID int64, clientID string) (bool, error)
	List(ctx context.Context, ownerID int64) ([]models.Client, error)
}

type ConsentManager interface {
	Revoke(ctx context.Context, id, userID int64) (bool, error)
	ListForUser(ctx context.Context, userID int64) ([]models.ConsentSummary, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

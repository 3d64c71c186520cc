package provider

import (
	"context"
	"errors"
	"log/slog"

	"github.com/golang-jwt/jwt/v5"

	"oidcprovider/internal/domain/models"
	"oidcprovider/internal/domain/scope"
	"oidcprovider/internal/lib/oautherr"
	"oidcprovider/internal/services/tokens"
	"oidcprovider/internal/storage"
)

// ResolveBearer validates an access token and checks it carries every required scope
func (p *Provider) ResolveBearer(ctx context.Context, token string, required ...scope.Scope) (*models.ResolvedAccessToken, error) {
	const op = "provider.ResolveBearer"

	if token == "" {
		return nil, oautherr.InvalidToken("an access token is required")
	}
	at, err := p.tokens.ResolveAccessToken(ctx, token)
	if err != nil {
		if errors.Is(err, tokens.ErrUnknownArtifact) || errors.Is(err, tokens.ErrExpiredArtifact) {
			return nil, oautherr.InvalidToken("the access token is invalid or expired")
		}
		p.log.With(slog.String("op", op)).Error("failed to resolve access token", slog.String("error", err.Error()))
		return nil, oautherr.ServerError(err)
	}
	if at.Scope.Empty() {
		return nil, oautherr.InvalidToken("the access token no longer grants any scope")
	}
	for _, sc := range required {
		if !at.Scope.Has(sc) {
			return nil, oautherr.InsufficientScope("the access token lacks the " + string(sc) + " scope")
		}
	}
	return at, nil
}

// UserInfo returns the claims an access token releases
func (p *Provider) UserInfo(ctx context.Context, token string) (jwt.MapClaims, error) {
	at, err := p.ResolveBearer(ctx, token, scope.OpenID)
	if err != nil {
		return nil, err
	}
	return p.ClaimsFor(ctx, at)
}

// ClaimsFor returns the claims an already resolved access token releases
func (p *Provider) ClaimsFor(ctx context.Context, at *models.ResolvedAccessToken) (jwt.MapClaims, error) {
	const op = "provider.ClaimsFor"

	if !at.Scope.Has(scope.OpenID) {
		return nil, oautherr.InsufficientScope("the access token lacks the openid scope")
	}
	claims, err := p.assertions.Claims(ctx, at.UserID, at.ClientID, at.Scope)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, oautherr.InvalidToken("the account behind the access token no longer exists")
		}
		p.log.With(slog.String("op", op)).Error("failed to collect claims", slog.String("error", err.Error()))
		return nil, oautherr.ServerError(err)
	}
	return claims, nil
}

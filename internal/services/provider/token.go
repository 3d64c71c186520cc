package provider

import (
	"context"
	"errors"
	"log/slog"

	"oidcprovider/internal/domain/models"
	"oidcprovider/internal/domain/scope"
	"oidcprovider/internal/lib/oautherr"
	"oidcprovider/internal/lib/pkce"
	"oidcprovider/internal/services/assertion"
	"oidcprovider/internal/services/tokens"
	"oidcprovider/internal/storage"
)

const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"

	tokenTypeBearer = "Bearer"

	// the one description every rejected artifact gets, whatever the real cause
	invalidGrantDescription = "the provided grant is invalid, expired, or was already used"
)

// TokenRequest is a token endpoint call with client credentials already extracted
type TokenRequest struct {
	GrantType    string
	Code         string
	CodeVerifier string
	RedirectURI  string
	RefreshToken string
	Scope        string
	ClientID     string
	ClientSecret string
}

// TokenResponse is the token endpoint success body
type TokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	RefreshExpiresIn int64  `json:"refresh_expires_in,omitempty"`
	IDToken          string `json:"id_token,omitempty"`
	Scope            string `json:"scope"`
}

// Exchange handles both token endpoint grants after authenticating the client
func (p *Provider) Exchange(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	const op = "provider.Exchange"

	log := p.log.With(
		slog.String("op", op),
		slog.String("client_id", req.ClientID),
		slog.String("grant_type", req.GrantType),
	)

	switch req.GrantType {
	case GrantAuthorizationCode, GrantRefreshToken:
	case "":
		return nil, oautherr.InvalidRequest("grant_type is required")
	default:
		return nil, oautherr.UnsupportedGrantType("grant_type must be authorization_code or refresh_token")
	}

	if req.ClientID == "" {
		return nil, oautherr.InvalidClient("client authentication is required")
	}
	client, err := p.clients.Authenticate(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidCredentials) {
			return nil, oautherr.InvalidClient("client authentication failed")
		}
		log.Error("client authentication failed", slog.String("error", err.Error()))
		return nil, oautherr.ServerError(err)
	}
	p.clients.Touch(ctx, client.ID)

	if req.GrantType == GrantAuthorizationCode {
		return p.exchangeCode(ctx, log, client, req)
	}
	return p.exchangeRefresh(ctx, log, client, req)
}

func (p *Provider) exchangeCode(ctx context.Context, log *slog.Logger, client *models.Client, req TokenRequest) (*TokenResponse, error) {
	if req.Code == "" {
		return nil, oautherr.InvalidRequest("code is required")
	}

	rc, err := p.tokens.RedeemCode(ctx, req.Code)
	if err != nil {
		return nil, p.rejectArtifact(log, "authorization_code", eventCodeRejected, err)
	}

	// the code is consumed from here on, every failure below burns it
	if rc.ClientID != client.ID {
		p.securityEvent(log, eventCodeClientSwap, slog.Int64("code_client", rc.ClientID))
		p.metrics.RedemptionFailed("authorization_code", "client_mismatch")
		return nil, oautherr.InvalidGrant(invalidGrantDescription)
	}
	if rc.RedirectURI != "" && rc.RedirectURI != req.RedirectURI {
		p.securityEvent(log, eventRedirectMismatch, slog.String("redirect_uri", req.RedirectURI))
		p.metrics.RedemptionFailed("authorization_code", "redirect_mismatch")
		return nil, oautherr.InvalidGrant(invalidGrantDescription)
	}
	if err := verifyPKCE(rc, req.CodeVerifier); err != nil {
		p.securityEvent(log, eventPKCEFailure, slog.String("reason", err.Error()))
		p.metrics.RedemptionFailed("authorization_code", "pkce")
		return nil, oautherr.InvalidGrant(invalidGrantDescription)
	}

	sc := rc.Scope.Intersect(client.Scope)
	if sc.Empty() {
		p.metrics.RedemptionFailed("authorization_code", "empty_scope")
		return nil, oautherr.InvalidGrant(invalidGrantDescription)
	}

	user, err := p.users.UserByID(ctx, rc.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, oautherr.InvalidGrant(invalidGrantDescription)
		}
		return nil, oautherr.ServerError(err)
	}
	if !user.EligibleForOAuth() {
		return nil, oautherr.InvalidGrant("the account is not eligible for sign in")
	}

	resp, access, err := p.issuePair(ctx, log, GrantAuthorizationCode, rc.ConsentID, sc, sc)
	if err != nil {
		return nil, err
	}

	if sc.Has(scope.OpenID) {
		idToken, err := p.assertions.Build(ctx, assertion.Request{
			UserID:      rc.UserID,
			ClientID:    client.ClientID,
			Scope:       sc,
			SessionAge:  rc.SessionAge,
			Nonce:       rc.Nonce,
			AccessToken: access,
		})
		if err != nil {
			log.Error("failed to build identity assertion", slog.String("error", err.Error()))
			return nil, oautherr.ServerError(err)
		}
		resp.IDToken = idToken
		p.metrics.TokenIssued(GrantAuthorizationCode, "id_token")
	}

	log.Info("authorization code exchanged", slog.Int64("consent_id", rc.ConsentID))
	return resp, nil
}

func (p *Provider) exchangeRefresh(ctx context.Context, log *slog.Logger, client *models.Client, req TokenRequest) (*TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, oautherr.InvalidRequest("refresh_token is required")
	}

	rt, err := p.tokens.RedeemRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		return nil, p.rejectArtifact(log, "refresh_token", eventRefreshRejected, err)
	}

	if rt.ClientID != client.ID {
		p.securityEvent(log, eventRefreshClientSwap, slog.Int64("token_client", rt.ClientID))
		p.metrics.RedemptionFailed("refresh_token", "client_mismatch")
		return nil, oautherr.InvalidGrant(invalidGrantDescription)
	}

	base := rt.Scope.Intersect(client.Scope)
	if !base.Has(scope.OfflineAccess) {
		p.metrics.RedemptionFailed("refresh_token", "offline_access_revoked")
		return nil, oautherr.InvalidGrant("offline access is no longer granted")
	}

	accessScope := base
	if req.Scope != "" {
		requested, unknown := scope.ParseSet(req.Scope)
		if len(unknown) > 0 || requested.Empty() || !requested.SubsetOf(base) {
			return nil, oautherr.InvalidScope("the requested scope exceeds the original grant")
		}
		accessScope = requested
	}

	resp, _, err := p.issuePair(ctx, log, GrantRefreshToken, rt.ConsentID, accessScope, base)
	if err != nil {
		return nil, err
	}

	log.Info("refresh token rotated", slog.Int64("consent_id", rt.ConsentID))
	return resp, nil
}

// issuePair mints the access token and, when refreshScope carries offline_access, a refresh token
func (p *Provider) issuePair(
	ctx context.Context,
	log *slog.Logger,
	grantType string,
	consentID int64,
	accessScope scope.Set,
	refreshScope scope.Set,
) (*TokenResponse, string, error) {
	access, err := p.tokens.IssueAccessToken(ctx, consentID, accessScope)
	if err != nil {
		log.Error("failed to issue access token", slog.String("error", err.Error()))
		return nil, "", oautherr.ServerError(err)
	}
	p.metrics.TokenIssued(grantType, string(models.KindAccess))

	resp := &TokenResponse{
		AccessToken: access.Value,
		TokenType:   tokenTypeBearer,
		ExpiresIn:   int64(access.ExpiresIn.Seconds()),
		Scope:       accessScope.String(),
	}

	if refreshScope.Has(scope.OfflineAccess) {
		refresh, err := p.tokens.IssueRefreshToken(ctx, consentID, refreshScope)
		if err != nil {
			log.Error("failed to issue refresh token", slog.String("error", err.Error()))
			return nil, "", oautherr.ServerError(err)
		}
		p.metrics.TokenIssued(grantType, string(models.KindRefresh))
		resp.RefreshToken = refresh.Value
		resp.RefreshExpiresIn = int64(refresh.ExpiresIn.Seconds())
	}

	return resp, access.Value, nil
}

// rejectArtifact maps a failed redemption to the generic invalid_grant, logging replays distinctly
func (p *Provider) rejectArtifact(log *slog.Logger, artifact, event string, err error) error {
	switch {
	case errors.Is(err, tokens.ErrUnknownArtifact):
		p.securityEvent(log, event, slog.String("reason", "unknown_or_used"))
		p.metrics.RedemptionFailed(artifact, "unknown_or_used")
	case errors.Is(err, tokens.ErrExpiredArtifact):
		log.Info("expired artifact presented", slog.String("artifact", artifact))
		p.metrics.RedemptionFailed(artifact, "expired")
	default:
		log.Error("redemption failed", slog.String("error", err.Error()))
		return oautherr.ServerError(err)
	}
	return oautherr.InvalidGrant(invalidGrantDescription)
}

func verifyPKCE(rc *models.RedeemedCode, verifier string) error {
	switch {
	case rc.CodeChallenge == "" && verifier == "":
		return nil
	case rc.CodeChallenge == "":
		return errors.New("code_verifier sent for a code issued without a challenge")
	case verifier == "":
		return errors.New("code_verifier missing")
	}
	return pkce.Verify(rc.CodeChallenge, rc.CodeChallengeMethod, verifier)
}

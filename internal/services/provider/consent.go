package provider

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"oidcprovider/internal/domain/models"
	"oidcprovider/internal/domain/scope"
	"oidcprovider/internal/lib/oautherr"
	"oidcprovider/internal/lib/utilities"
	"oidcprovider/internal/storage"
)

// ConsentPrompt is what the consent screen shows for a parked request
type ConsentPrompt struct {
	Challenge      string    `json:"consent_challenge"`
	ClientID       string    `json:"client_id"`
	ClientName     string    `json:"client_name"`
	ClientImage    string    `json:"client_image,omitempty"`
	Domain         string    `json:"domain"`
	LocalRedirect  bool      `json:"local_redirect"`
	RequestedScope scope.Set `json:"requested_scope"`
	GrantedBefore  scope.Set `json:"granted_before"`
	NewScope       scope.Set `json:"new_scope"`
}

// ConsentDecision is the user's answer to a consent prompt.
// An empty Scope approves everything requested.
type ConsentDecision struct {
	Approve     bool
	Scope       string
	RememberFor *time.Duration
}

// PendingDetails describes a parked request to the user it belongs to
func (p *Provider) PendingDetails(ctx context.Context, challenge string, session *models.SessionIdentity) (*ConsentPrompt, error) {
	const op = "provider.PendingDetails"

	log := p.log.With(slog.String("op", op))

	pending, err := p.ownedPending(ctx, log, challenge, session)
	if err != nil {
		return nil, err
	}
	client, err := p.clients.Lookup(ctx, pending.Request.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, oautherr.InvalidRequest("the requesting application no longer exists")
		}
		log.Error("client lookup failed", slog.String("error", err.Error()))
		return nil, oautherr.ServerError(err)
	}

	req := pending.Request
	return &ConsentPrompt{
		Challenge:      pending.Challenge,
		ClientID:       client.ClientID,
		ClientName:     client.Name,
		ClientImage:    client.ImageURL,
		Domain:         utilities.Domain(req.RedirectURI),
		LocalRedirect:  req.LocalRedirect,
		RequestedScope: req.Scope,
		GrantedBefore:  pending.GrantedBefore,
		NewScope:       req.Scope.Without(pending.GrantedBefore),
	}, nil
}

// ApproveConsent applies the user's decision and returns where the browser goes next.
// The parked request is consumed whatever the outcome.
func (p *Provider) ApproveConsent(
	ctx context.Context,
	challenge string,
	session *models.SessionIdentity,
	decision ConsentDecision,
) (string, error) {
	const op = "provider.ApproveConsent"

	log := p.log.With(slog.String("op", op))

	if _, err := p.ownedPending(ctx, log, challenge, session); err != nil {
		return "", err
	}
	pending, err := p.pending.TakePending(ctx, challenge)
	if err != nil {
		if errors.Is(err, storage.ErrPendingNotFound) {
			return "", oautherr.InvalidRequest("the consent request expired or was already answered")
		}
		log.Error("failed to take pending authorization", slog.String("error", err.Error()))
		return "", oautherr.ServerError(err)
	}
	req := pending.Request
	log = log.With(slog.String("client_id", req.ClientID), slog.Int64("user_id", pending.UserID))

	fail := func(e *oautherr.Error) (string, error) {
		return "", e.WithRedirect(req.RedirectURI, req.State)
	}

	if !decision.Approve {
		log.Info("consent denied")
		return oautherr.AccessDenied("the user denied the request").WithRedirect(req.RedirectURI, req.State).RedirectLocation()
	}

	granted := req.Scope
	if decision.Scope != "" {
		chosen, _ := scope.ParseSet(decision.Scope)
		granted = chosen.Intersect(req.Scope)
	}
	if granted.Empty() {
		return fail(oautherr.AccessDenied("no scope was approved"))
	}

	// the registration or the account may have changed while the screen was open
	client, err := p.clients.Lookup(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return fail(oautherr.InvalidRequest("the requesting application no longer exists"))
		}
		return fail(oautherr.ServerError(err))
	}
	granted = granted.Intersect(client.Scope)
	if granted.Empty() {
		return fail(oautherr.InvalidScope("no approved scope is allowed for this client"))
	}
	user, err := p.users.UserByID(ctx, pending.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return fail(oautherr.AccessDenied("the account no longer exists"))
		}
		return fail(oautherr.ServerError(err))
	}
	if !user.EligibleForOAuth() {
		return fail(oautherr.AccessDenied("the account must finish setup before signing in to applications"))
	}

	existing, err := p.consents.HasConsent(ctx, user.ID, client.ID)
	if err != nil {
		return fail(oautherr.ServerError(err))
	}
	consentID, err := p.consents.Grant(ctx, client.ID, user.ID, granted, decision.RememberFor, existing)
	if err != nil {
		log.Error("failed to record consent", slog.String("error", err.Error()))
		return fail(oautherr.ServerError(err))
	}
	log.Info("consent granted", slog.String("scope", granted.String()))

	return p.issueCodeRedirect(ctx, log, &req, consentID, granted, pending.SessionAge)
}

// ownedPending reads a parked request without consuming it and checks it belongs to the session user
func (p *Provider) ownedPending(
	ctx context.Context,
	log *slog.Logger,
	challenge string,
	session *models.SessionIdentity,
) (*models.PendingAuthorization, error) {
	if session == nil {
		return nil, oautherr.LoginRequired("sign in to answer the consent request")
	}
	if challenge == "" {
		return nil, oautherr.InvalidRequest("consent_challenge is required")
	}
	pending, err := p.pending.Pending(ctx, challenge)
	if err != nil {
		if errors.Is(err, storage.ErrPendingNotFound) {
			return nil, oautherr.InvalidRequest("the consent request expired or was already answered")
		}
		log.Error("failed to read pending authorization", slog.String("error", err.Error()))
		return nil, oautherr.ServerError(err)
	}
	if pending.UserID != session.UserID {
		log.Warn("consent challenge presented by another user", slog.Int64("user_id", session.UserID))
		return nil, oautherr.InvalidRequest("the consent request expired or was already answered")
	}
	return pending, nil
}

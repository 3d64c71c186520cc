package provider

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"oidcprovider/internal/domain/models"
	"oidcprovider/internal/domain/scope"
	"oidcprovider/internal/lib/oautherr"
	"oidcprovider/internal/lib/pkce"
	"oidcprovider/internal/lib/utilities"
	"oidcprovider/internal/services/tokens"
	"oidcprovider/internal/storage"
)

const (
	responseTypeCode = "code"
	maxNonceLength   = 512
	maxStateLength   = 2048
	// reauthWindow replaces prompt=login and max_age=0 on the post-login return
	// so the freshly authenticated user is not sent to login again
	reauthWindow = 300
)

// AuthorizeParams are the raw authorization endpoint parameters
type AuthorizeParams struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
	MaxAge              string
	Prompt              string
}

// ValidateAuthorizeRequest checks an authorization request against the client registration.
// Errors found before the redirect uri is verified are not redirectable.
func (p *Provider) ValidateAuthorizeRequest(ctx context.Context, params AuthorizeParams) (*models.AuthorizationRequest, error) {
	const op = "provider.ValidateAuthorizeRequest"

	log := p.log.With(slog.String("op", op), slog.String("client_id", params.ClientID))

	if params.ClientID == "" {
		return nil, oautherr.InvalidRequest("client_id is required")
	}
	client, err := p.clients.Lookup(ctx, params.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, oautherr.InvalidClient("unknown client_id")
		}
		log.Error("client lookup failed", slog.String("error", err.Error()))
		return nil, oautherr.ServerError(err)
	}

	redirectURI := params.RedirectURI
	explicit := redirectURI != ""
	switch {
	case explicit && !client.HasRedirectURI(redirectURI):
		log.Info("unregistered redirect_uri", slog.String("redirect_uri", redirectURI))
		return nil, oautherr.InvalidRequest("redirect_uri is not registered for this client")
	case !explicit && len(client.RedirectURIs) == 1:
		redirectURI = client.RedirectURIs[0]
	case !explicit:
		return nil, oautherr.InvalidRequest("redirect_uri is required when the client registered several")
	}

	// from here on errors go back to the verified redirect uri
	fail := func(e *oautherr.Error) (*models.AuthorizationRequest, error) {
		return nil, e.WithRedirect(redirectURI, params.State)
	}

	if len(params.State) > maxStateLength {
		// an oversized state is not echoed back
		return nil, oautherr.InvalidRequest("state is too long").WithRedirect(redirectURI, "")
	}
	switch params.ResponseType {
	case responseTypeCode:
	case "":
		return fail(oautherr.InvalidRequest("response_type is required"))
	default:
		return fail(oautherr.UnsupportedResponseType("only response_type=code is supported"))
	}

	var requested scope.Set
	if strings.TrimSpace(params.Scope) == "" {
		requested = client.DefaultScope
	} else {
		requested, _ = scope.ParseSet(params.Scope)
	}
	requested = requested.Intersect(client.Scope)
	if requested.Empty() {
		return fail(oautherr.InvalidScope("no requested scope is allowed for this client"))
	}

	method, err := pkce.NormalizeMethod(params.CodeChallenge, params.CodeChallengeMethod)
	if err != nil {
		return fail(oautherr.InvalidRequest("invalid code_challenge_method: " + err.Error()))
	}
	if params.CodeChallenge != "" && !pkce.WellFormed(params.CodeChallenge) {
		return fail(oautherr.InvalidRequest("code_challenge must be 43 to 128 unreserved characters"))
	}

	if len(params.Nonce) > maxNonceLength {
		return fail(oautherr.InvalidRequest("nonce is too long"))
	}

	var maxAge *int64
	if params.MaxAge != "" {
		v, err := strconv.ParseInt(params.MaxAge, 10, 64)
		if err != nil || v < 0 {
			return fail(oautherr.InvalidRequest("max_age must be a non-negative integer"))
		}
		maxAge = &v
	}

	prompts := strings.Fields(params.Prompt)
	for _, pr := range prompts {
		switch pr {
		case models.PromptNone:
			if len(prompts) > 1 {
				return fail(oautherr.InvalidRequest("prompt=none cannot be combined with other values"))
			}
		case models.PromptLogin, models.PromptConsent:
		default:
			return fail(oautherr.InvalidRequest("unsupported prompt value " + strconv.Quote(pr)))
		}
	}

	return &models.AuthorizationRequest{
		ClientID:            client.ClientID,
		ClientInternalID:    client.ID,
		RedirectURI:         redirectURI,
		RedirectExplicit:    explicit,
		Scope:               requested,
		State:               params.State,
		Nonce:               params.Nonce,
		CodeChallenge:       params.CodeChallenge,
		CodeChallengeMethod: method,
		MaxAge:              maxAge,
		Prompt:              strings.Join(prompts, " "),
		LocalRedirect:       utilities.IsLocalRedirect(redirectURI),
	}, nil
}

// Authorize decides a validated request for the current session and returns where the
// browser goes next: the client with a code, the login page, or the consent page.
// session is nil when nobody is signed in; returnTo is the authorization url as received.
func (p *Provider) Authorize(
	ctx context.Context,
	req *models.AuthorizationRequest,
	session *models.SessionIdentity,
	returnTo string,
) (string, error) {
	const op = "provider.Authorize"

	log := p.log.With(slog.String("op", op), slog.String("client_id", req.ClientID))

	fail := func(e *oautherr.Error) (string, error) {
		return "", e.WithRedirect(req.RedirectURI, req.State)
	}

	if session == nil {
		if req.HasPrompt(models.PromptNone) {
			return fail(oautherr.LoginRequired("the user is not signed in"))
		}
		return p.loginRedirect(req, returnTo)
	}

	user, err := p.users.UserByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			if req.HasPrompt(models.PromptNone) {
				return fail(oautherr.LoginRequired("the session no longer maps to an account"))
			}
			return p.loginRedirect(req, returnTo)
		}
		log.Error("user lookup failed", slog.String("error", err.Error()))
		return fail(oautherr.ServerError(err))
	}
	if !user.EligibleForOAuth() {
		log.Info("account not eligible for oauth", slog.Int64("user_id", user.ID))
		return fail(oautherr.AccessDenied("the account must finish setup before signing in to applications"))
	}

	sessionAge := session.Age(p.now())
	needReauth := req.HasPrompt(models.PromptLogin) || (req.MaxAge != nil && *req.MaxAge < sessionAge)
	if needReauth {
		if req.HasPrompt(models.PromptNone) {
			return fail(oautherr.LoginRequired("the session is older than max_age"))
		}
		return p.loginRedirect(req, returnTo)
	}

	existing, err := p.consents.HasConsent(ctx, user.ID, req.ClientInternalID)
	if err != nil {
		log.Error("consent lookup failed", slog.String("error", err.Error()))
		return fail(oautherr.ServerError(err))
	}

	// loopback targets can be claimed by any local process, so they always get the screen
	forceUI := req.LocalRedirect || req.HasPrompt(models.PromptConsent)

	if !forceUI && existing != nil && req.Scope.SubsetOf(existing.Scope) {
		return p.issueCodeRedirect(ctx, log, req, existing.ID, req.Scope, sessionAge)
	}

	if !forceUI {
		client, err := p.clients.Lookup(ctx, req.ClientID)
		if err != nil {
			log.Error("client lookup failed", slog.String("error", err.Error()))
			return fail(oautherr.ServerError(err))
		}
		if client.AutoGrant {
			consentID, err := p.consents.Grant(ctx, client.ID, user.ID, req.Scope, nil, existing)
			if err != nil {
				return fail(oautherr.ServerError(err))
			}
			log.Info("consent auto-granted", slog.Int64("user_id", user.ID))
			return p.issueCodeRedirect(ctx, log, req, consentID, req.Scope, sessionAge)
		}
	}

	if req.HasPrompt(models.PromptNone) {
		return fail(oautherr.InteractionRequired("the user must consent to the requested scope"))
	}

	pending := &models.PendingAuthorization{
		Challenge:  uuid.NewString(),
		UserID:     user.ID,
		SessionAge: sessionAge,
		Request:    *req,
		CreatedAt:  p.now().UTC(),
	}
	if existing != nil {
		pending.GrantedBefore = existing.Scope
		pending.ConsentID = existing.ID
	}
	if err := p.pending.SavePending(ctx, pending, p.opts.PendingTTL); err != nil {
		log.Error("failed to park authorization", slog.String("error", err.Error()))
		return fail(oautherr.ServerError(err))
	}

	return withQuery(p.opts.ConsentURL, url.Values{"consent_challenge": {pending.Challenge}})
}

func (p *Provider) loginRedirect(req *models.AuthorizationRequest, returnTo string) (string, error) {
	back, err := url.Parse(returnTo)
	if err != nil {
		return "", oautherr.ServerError(err).WithRedirect(req.RedirectURI, req.State)
	}
	q := back.Query()
	if req.HasPrompt(models.PromptLogin) || (req.MaxAge != nil && *req.MaxAge == 0) {
		q.Del("prompt")
		q.Set("max_age", strconv.Itoa(reauthWindow))
	}
	back.RawQuery = q.Encode()
	return withQuery(p.opts.LoginURL, url.Values{"return_to": {back.String()}})
}

func (p *Provider) issueCodeRedirect(
	ctx context.Context,
	log *slog.Logger,
	req *models.AuthorizationRequest,
	consentID int64,
	sc scope.Set,
	sessionAge int64,
) (string, error) {
	params := tokens.CodeParams{
		ConsentID:           consentID,
		Scope:               sc,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		SessionAge:          &sessionAge,
		Nonce:               req.Nonce,
	}
	if req.RedirectExplicit {
		params.RedirectURI = req.RedirectURI
	}
	code, err := p.tokens.IssueCode(ctx, params)
	if err != nil {
		log.Error("failed to issue code", slog.String("error", err.Error()))
		return "", oautherr.ServerError(err).WithRedirect(req.RedirectURI, req.State)
	}

	p.clients.Touch(ctx, req.ClientInternalID)

	values := url.Values{"code": {code}}
	if req.State != "" {
		values.Set("state", req.State)
	}
	return withQuery(req.RedirectURI, values)
}

// withQuery adds values to base, keeping any query base already has
func withQuery(base string, values url.Values) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", oautherr.ServerError(err)
	}
	q := u.Query()
	for k, vs := range values {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

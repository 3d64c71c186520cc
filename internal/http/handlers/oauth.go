package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"oidcprovider/internal/domain/scope"
	"oidcprovider/internal/http/middleware"
	"oidcprovider/internal/lib/oautherr"
	"oidcprovider/internal/services/provider"
)

// Authorize is the authorization endpoint
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.deliverAuthorizeError(w, r, oautherr.InvalidRequest("malformed request"))
		return
	}

	params := provider.AuthorizeParams{
		ResponseType:        r.Form.Get("response_type"),
		ClientID:            r.Form.Get("client_id"),
		RedirectURI:         r.Form.Get("redirect_uri"),
		Scope:               r.Form.Get("scope"),
		State:               r.Form.Get("state"),
		CodeChallenge:       r.Form.Get("code_challenge"),
		CodeChallengeMethod: r.Form.Get("code_challenge_method"),
		Nonce:               r.Form.Get("nonce"),
		MaxAge:              r.Form.Get("max_age"),
		Prompt:              r.Form.Get("prompt"),
	}

	req, err := h.provider.ValidateAuthorizeRequest(r.Context(), params)
	if err != nil {
		h.deliverAuthorizeError(w, r, err)
		return
	}

	returnTo := h.issuer + r.URL.Path + "?" + r.Form.Encode()
	location, err := h.provider.Authorize(r.Context(), req, middleware.SessionFrom(r.Context()), returnTo)
	if err != nil {
		h.deliverAuthorizeError(w, r, err)
		return
	}
	http.Redirect(w, r, location, http.StatusFound)
}

// Token is the token endpoint
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.Token"

	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, oautherr.InvalidRequest("the body must be form encoded"))
		return
	}

	clientID, clientSecret, cerr := clientCredentials(r)
	if cerr != nil {
		writeOAuthError(w, cerr)
		return
	}

	resp, err := h.provider.Exchange(r.Context(), provider.TokenRequest{
		GrantType:    r.PostForm.Get("grant_type"),
		Code:         r.PostForm.Get("code"),
		CodeVerifier: r.PostForm.Get("code_verifier"),
		RedirectURI:  r.PostForm.Get("redirect_uri"),
		RefreshToken: r.PostForm.Get("refresh_token"),
		Scope:        r.PostForm.Get("scope"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
	})
	if err != nil {
		e := oautherr.From(err)
		if e.Code == oautherr.CodeServerError {
			h.log.With(slog.String("op", op)).Error("token exchange failed", slog.String("error", err.Error()))
		}
		if e.Code == oautherr.CodeInvalidClient {
			w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Basic realm=%q`, h.issuer))
		}
		writeOAuthError(w, e)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// clientCredentials reads client_secret_basic or client_secret_post credentials, never both
func clientCredentials(r *http.Request) (string, string, *oautherr.Error) {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return r.PostForm.Get("client_id"), r.PostForm.Get("client_secret"), nil
	}
	if r.PostForm.Get("client_secret") != "" {
		return "", "", oautherr.InvalidRequest("use exactly one client authentication method")
	}
	clientID, err := url.QueryUnescape(user)
	if err != nil {
		return "", "", oautherr.InvalidClient("malformed basic credentials")
	}
	secret, err := url.QueryUnescape(pass)
	if err != nil {
		return "", "", oautherr.InvalidClient("malformed basic credentials")
	}
	if body := r.PostForm.Get("client_id"); body != "" && body != clientID {
		return "", "", oautherr.InvalidRequest("client_id does not match the authenticated client")
	}
	return clientID, secret, nil
}

// ConsentDetails tells the consent screen what a parked request asks for
func (h *Handler) ConsentDetails(w http.ResponseWriter, r *http.Request) {
	prompt, err := h.provider.PendingDetails(r.Context(), r.URL.Query().Get("consent_challenge"), middleware.SessionFrom(r.Context()))
	if err != nil {
		writeOAuthError(w, oautherr.From(err))
		return
	}
	writeJSON(w, http.StatusOK, prompt)
}

type consentRedirect struct {
	RedirectTo string `json:"redirect_to"`
}

// ConsentDecision applies the user's answer and tells the consent screen where to go
func (h *Handler) ConsentDecision(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, oautherr.InvalidRequest("malformed request"))
		return
	}

	approve, _ := strconv.ParseBool(r.PostForm.Get("approve"))
	decision := provider.ConsentDecision{
		Approve: approve,
		Scope:   r.PostForm.Get("scope"),
	}
	if raw := r.PostForm.Get("remember_for"); raw != "" {
		seconds, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || seconds < 0 {
			writeOAuthError(w, oautherr.InvalidRequest("remember_for must be a non-negative number of seconds"))
			return
		}
		// zero means remember until revoked
		if seconds > 0 {
			d := time.Duration(seconds) * time.Second
			decision.RememberFor = &d
		}
	}

	location, err := h.provider.ApproveConsent(
		r.Context(),
		r.PostForm.Get("consent_challenge"),
		middleware.SessionFrom(r.Context()),
		decision,
	)
	if err != nil {
		e := oautherr.From(err)
		if e.Redirectable() {
			if location, lerr := e.RedirectLocation(); lerr == nil {
				writeJSON(w, http.StatusOK, consentRedirect{RedirectTo: location})
				return
			}
		}
		writeOAuthError(w, e)
		return
	}
	writeJSON(w, http.StatusOK, consentRedirect{RedirectTo: location})
}

// UserInfo returns the claims released by the bearer token
func (h *Handler) UserInfo(w http.ResponseWriter, r *http.Request) {
	claims, err := h.provider.ClaimsFor(r.Context(), middleware.BearerFrom(r.Context()))
	if err != nil {
		middleware.WriteBearerError(w, oautherr.From(err))
		return
	}
	writeJSON(w, http.StatusOK, claims)
}

type discoveryDocument struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserInfoEndpoint                  string   `json:"userinfo_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	ResponseModesSupported            []string `json:"response_modes_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported"`
	ScopesSupported                   []string `json:"scopes_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	ClaimsSupported                   []string `json:"claims_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	PromptValuesSupported             []string `json:"prompt_values_supported"`
}

// Discovery serves the OpenID provider metadata
func (h *Handler) Discovery(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, http.StatusOK, discoveryDocument{
		Issuer:                            h.issuer,
		AuthorizationEndpoint:             h.issuer + "/oauth/authorize",
		TokenEndpoint:                     h.issuer + "/oauth/token",
		UserInfoEndpoint:                  h.issuer + "/oauth/userinfo",
		JWKSURI:                           h.issuer + "/.well-known/jwks.json",
		ResponseTypesSupported:            []string{"code"},
		ResponseModesSupported:            []string{"query"},
		GrantTypesSupported:               []string{provider.GrantAuthorizationCode, provider.GrantRefreshToken},
		SubjectTypesSupported:             []string{"pairwise"},
		IDTokenSigningAlgValuesSupported:  []string{"RS256"},
		ScopesSupported:                   scope.NewSet(scope.Supported...).Strings(),
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post"},
		ClaimsSupported: []string{
			"sub", "iss", "aud", "exp", "iat", "auth_time", "nonce", "at_hash",
			"name", "preferred_username", "updated_at", "email", "email_verified",
			"user_id", "privilege", "verified",
		},
		CodeChallengeMethodsSupported: []string{"plain", "S256"},
		PromptValuesSupported:         []string{"none", "login", "consent"},
	})
}

// JWKS publishes the verification keys
func (h *Handler) JWKS(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.JWKS"

	set, err := h.keys.PublicKeySet(r.Context())
	if err != nil {
		h.log.With(slog.String("op", op)).Error("failed to load key set", slog.String("error", err.Error()))
		writeOAuthError(w, oautherr.ServerError(err))
		return
	}
	body, err := json.Marshal(set)
	if err != nil {
		h.log.With(slog.String("op", op)).Error("failed to encode key set", slog.String("error", err.Error()))
		writeOAuthError(w, oautherr.ServerError(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	_, _ = w.Write(body)
}

package models

import (
	"strings"
	"time"

	"oidcprovider/internal/domain/scope"
)

// Prompt values honoured by the authorization endpoint
const (
	PromptNone    = "none"
	PromptLogin   = "login"
	PromptConsent = "consent"
)

// AuthorizationRequest is a validated authorization endpoint request
type AuthorizationRequest struct {
	ClientID            string    `json:"client_id"`
	ClientInternalID    int64     `json:"client_internal_id"`
	RedirectURI         string    `json:"redirect_uri"`
	RedirectExplicit    bool      `json:"redirect_explicit"`
	Scope               scope.Set `json:"scope"`
	State               string    `json:"state,omitempty"`
	Nonce               string    `json:"nonce,omitempty"`
	CodeChallenge       string    `json:"code_challenge,omitempty"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty"`
	MaxAge              *int64    `json:"max_age,omitempty"`
	Prompt              string    `json:"prompt,omitempty"`
	LocalRedirect       bool      `json:"local_redirect"`
}

// HasPrompt reports whether the space separated prompt parameter contains v
func (r *AuthorizationRequest) HasPrompt(v string) bool {
	for _, p := range strings.Fields(r.Prompt) {
		if p == v {
			return true
		}
	}
	return false
}

// PendingAuthorization is an authorization request parked while the user decides on consent
type PendingAuthorization struct {
	Challenge     string               `json:"challenge"`
	UserID        int64                `json:"user_id"`
	SessionAge    int64                `json:"session_age"`
	Request       AuthorizationRequest `json:"request"`
	GrantedBefore scope.Set            `json:"granted_before,omitempty"`
	ConsentID     int64                `json:"consent_id,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
}

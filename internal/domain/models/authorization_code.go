package models

import (
	"time"

	"oidcprovider/internal/domain/scope"
)

// AuthorizationCode binds a consent to one authorization request.
// Only the hash of the code is persisted.
type AuthorizationCode struct {
	CodeHash            string    `json:"-" db:"code_hash"`
	ConsentID           int64     `json:"consent_id" db:"consent_id"`
	Scope               scope.Set `json:"scope" db:"scope"`
	CodeChallenge       string    `json:"code_challenge,omitempty" db:"code_challenge"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty" db:"code_challenge_method"`
	Nonce               string    `json:"nonce,omitempty" db:"nonce"`
	SessionAge          *int64    `json:"session_age,omitempty" db:"session_age"`
	RedirectURI         string    `json:"redirect_uri,omitempty" db:"redirect_uri"`
	ExpiresAt           time.Time `json:"expires_at" db:"expires_at"`
}

// RedeemedCode is what survives a successful single-use redemption
type RedeemedCode struct {
	ConsentID           int64
	Scope               scope.Set
	ConsentedScope      scope.Set
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
	SessionAge          *int64
	RedirectURI         string
	UserID              int64
	ClientID            int64
	ExpiresAt           time.Time
	ConsentExpiresAt    *time.Time
}

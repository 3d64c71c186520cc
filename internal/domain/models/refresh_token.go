package models

import (
	"time"

	"oidcprovider/internal/domain/scope"
)

// TokenKind distinguishes the two bearer artifacts bound to a consent
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// Token is an access or refresh token row. Only the hash is persisted.
type Token struct {
	TokenHash string    `json:"-" db:"token_hash"`
	Kind      TokenKind `json:"kind" db:"kind"`
	ConsentID int64     `json:"consent_id" db:"consent_id"`
	Scope     scope.Set `json:"scope" db:"scope"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
}

// ResolvedAccessToken is the view the bearer guard needs.
// ConsentedScope and ClientScope are the live values the token scope is filtered against.
type ResolvedAccessToken struct {
	UserID           int64
	Scope            scope.Set
	ConsentedScope   scope.Set
	ClientScope      scope.Set
	ClientID         string
	ClientInternalID int64
	ExpiresAt        time.Time
	ConsentExpiresAt *time.Time
}

// RedeemedRefreshToken is what survives a successful single-use redemption
type RedeemedRefreshToken struct {
	ConsentID        int64
	Scope            scope.Set
	ConsentedScope   scope.Set
	UserID           int64
	ClientID         int64
	ExpiresAt        time.Time
	ConsentExpiresAt *time.Time
}

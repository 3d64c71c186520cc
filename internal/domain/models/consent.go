package models

import (
	"time"

	"oidcprovider/internal/domain/scope"
)

// Consent is a standing grant of a scope set from one user to one client
type Consent struct {
	ID          int64      `json:"id" db:"id"`
	UserID      int64      `json:"user_id" db:"user_id"`
	ClientID    int64      `json:"client_id" db:"client_id"`
	Scope       scope.Set  `json:"scope" db:"scope"`
	ConsentedAt time.Time  `json:"consented_at" db:"consented_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty" db:"expires_at"`
}

// Live reports whether the consent has not expired at now
func (c *Consent) Live(now time.Time) bool {
	return c.ExpiresAt == nil || c.ExpiresAt.After(now)
}

// ConsentSummary is the user facing listing of a standing grant
type ConsentSummary struct {
	ID          int64      `json:"id"`
	ClientName  string     `json:"client_name"`
	ClientImage string     `json:"client_image,omitempty"`
	Domain      string     `json:"domain"`
	Scope       scope.Set  `json:"scope"`
	ExpiresAt   *time.Time `json:"expires_at"`
	// RedirectURI is the client's first registered uri, the source of Domain
	RedirectURI string `json:"-"`
}

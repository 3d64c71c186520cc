package models

import (
	"time"

	"oidcprovider/internal/domain/scope"
)

// Client is a registered relying party
type Client struct {
	ID           int64      `json:"-" db:"id"`
	ClientID     string     `json:"client_id" db:"client_id"`
	OwnerID      int64      `json:"owner_id" db:"owner_id"`
	Name         string     `json:"name" db:"name"`
	SecretHash   []byte     `json:"-" db:"secret_hash"`
	RedirectURIs []string   `json:"redirect_uris" db:"redirect_uris"`
	Scope        scope.Set  `json:"scope" db:"scope"`
	DefaultScope scope.Set  `json:"default_scope,omitempty" db:"default_scope"`
	AutoGrant    bool       `json:"auto_grant" db:"auto_grant"`
	ImageURL     string     `json:"image_url,omitempty" db:"image_url"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// HasRedirectURI reports whether uri exactly matches a registered redirect uri
func (c *Client) HasRedirectURI(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// ClientRegistration carries the owner supplied fields of a create or update
type ClientRegistration struct {
	OwnerID      int64
	Name         string
	Scope        scope.Set
	RedirectURIs []string
	DefaultScope scope.Set
	ImageURL     string
	// ExistingClientID switches the registration into an update of an owned client
	ExistingClientID string
	RerollSecret     bool
}

// ClientCredentials is returned once after create or secret reroll.
// Secret is empty when an update kept the previous secret.
type ClientCredentials struct {
	ClientID string `json:"client_id"`
	Secret   string `json:"client_secret,omitempty"`
}

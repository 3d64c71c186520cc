package models

import (
	"crypto/rsa"
	"time"
)

// SigningKey is one persisted RSA keypair used for identity assertions
type SigningKey struct {
	KeyID      string
	PrivateKey *rsa.PrivateKey
	CreatedAt  time.Time
}

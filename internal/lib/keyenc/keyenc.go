package keyenc

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

const privateKeyBlock = "RSA PRIVATE KEY"

var ErrInvalidPEM = errors.New("invalid private key pem")

// EncodePrivateKey renders an RSA key as PKCS#1 PEM
func EncodePrivateKey(key *rsa.PrivateKey) string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  privateKeyBlock,
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
}

// DecodePrivateKey parses PKCS#1 or PKCS#8 PEM into an RSA key
func DecodePrivateKey(raw string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, ErrInvalidPEM
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an rsa key", ErrInvalidPEM)
	}
	return key, nil
}

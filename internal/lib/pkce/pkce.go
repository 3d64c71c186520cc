package pkce

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
)

const (
	MethodPlain = "plain"
	MethodS256  = "S256"
)

var (
	ErrUnsupportedMethod = errors.New("unsupported code challenge method")
	ErrMalformed         = errors.New("code challenge or verifier is malformed")
	ErrMismatch          = errors.New("code verifier does not match challenge")
)

// NormalizeMethod applies the RFC 7636 default: a challenge without a method is plain
func NormalizeMethod(challenge, method string) (string, error) {
	if challenge == "" {
		if method != "" {
			return "", ErrMalformed
		}
		return "", nil
	}
	switch method {
	case "":
		return MethodPlain, nil
	case MethodPlain, MethodS256:
		return method, nil
	default:
		return "", ErrUnsupportedMethod
	}
}

// WellFormed checks the 43..128 unreserved-character rule shared by challenges and verifiers
func WellFormed(value string) bool {
	if len(value) < 43 || len(value) > 128 {
		return false
	}
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '-', c == '.', c == '_', c == '~':
		default:
			return false
		}
	}
	return true
}

// S256Challenge derives the S256 challenge of a verifier: base64url(sha256(verifier)), unpadded
func S256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Verify checks a presented verifier against the stored challenge and method
func Verify(challenge, method, verifier string) error {
	if !WellFormed(verifier) {
		return ErrMalformed
	}
	var calculated string
	switch method {
	case MethodS256:
		calculated = S256Challenge(verifier)
	case MethodPlain:
		calculated = verifier
	default:
		return ErrUnsupportedMethod
	}
	if subtle.ConstantTimeCompare([]byte(calculated), []byte(challenge)) != 1 {
		return ErrMismatch
	}
	return nil
}

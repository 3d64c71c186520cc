package random

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// tokenBytes gives 256 bits of entropy per opaque artifact
const tokenBytes = 32

// Token returns a URL-safe opaque string for codes, access and refresh tokens
func Token() (string, error) {
	return String(tokenBytes)
}

// String returns n random bytes encoded as unpadded base64url
func String(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("random.String: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Hash is the lookup key under which an opaque artifact is stored
func Hash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

package pkce

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// verifier and challenge from RFC 7636 appendix B
const (
	rfcVerifier  = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	rfcChallenge = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
)

func TestS256Challenge(t *testing.T) {
	t.Parallel()
	assert.Equal(t, rfcChallenge, S256Challenge(rfcVerifier))
}

func TestVerify(t *testing.T) {
	t.Parallel()

	other := strings.Repeat("a", 43)

	tests := []struct {
		name      string
		challenge string
		method    string
		verifier  string
		wantErr   error
	}{
		{name: "s256 round trip", challenge: rfcChallenge, method: MethodS256, verifier: rfcVerifier},
		{name: "s256 wrong verifier", challenge: rfcChallenge, method: MethodS256, verifier: other, wantErr: ErrMismatch},
		{name: "plain exact", challenge: other, method: MethodPlain, verifier: other},
		{name: "plain mismatch", challenge: other, method: MethodPlain, verifier: rfcVerifier, wantErr: ErrMismatch},
		{name: "short verifier", challenge: rfcChallenge, method: MethodS256, verifier: "abc", wantErr: ErrMalformed},
		{name: "bad characters", challenge: rfcChallenge, method: MethodS256, verifier: strings.Repeat("a", 42) + "+", wantErr: ErrMalformed},
		{name: "unknown method", challenge: rfcChallenge, method: "S512", verifier: rfcVerifier, wantErr: ErrUnsupportedMethod},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Verify(tt.challenge, tt.method, tt.verifier)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNormalizeMethod(t *testing.T) {
	t.Parallel()

	m, err := NormalizeMethod(rfcChallenge, "")
	require.NoError(t, err)
	assert.Equal(t, MethodPlain, m)

	m, err = NormalizeMethod(rfcChallenge, MethodS256)
	require.NoError(t, err)
	assert.Equal(t, MethodS256, m)

	m, err = NormalizeMethod("", "")
	require.NoError(t, err)
	assert.Empty(t, m)

	_, err = NormalizeMethod("", MethodS256)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = NormalizeMethod(rfcChallenge, "s256")
	assert.ErrorIs(t, err, ErrUnsupportedMethod)
}

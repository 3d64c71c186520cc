package assertion

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oidcprovider/internal/domain/models"
	"oidcprovider/internal/domain/scope"
	"oidcprovider/internal/services/keys"
	"oidcprovider/internal/storage/memory"
)

const secret = "test-subject-secret-0123456789abcdef"

type countingUsers struct {
	user  *models.User
	calls atomic.Int32
	err   error
}

func (c *countingUsers) UserByID(context.Context, int64) (*models.User, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.user, nil
}

func newBuilder(t *testing.T, users *countingUsers) (*Builder, *keys.Provider) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	kp := keys.New(log, memory.New(), nil)
	return New(log, "https://id.test", users, kp, secret, time.Hour), kp
}

func fakeUser() *models.User {
	return &models.User{
		ID:            42,
		Username:      gofakeit.Username(),
		DisplayName:   gofakeit.Name(),
		Email:         gofakeit.Email(),
		EmailVerified: true,
		Privilege:     models.PrivilegeModerator,
		Verified:      true,
		CreatedAt:     time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func parse(t *testing.T, kp *keys.Provider, raw string) jwt.MapClaims {
	t.Helper()
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(tok *jwt.Token) (interface{}, error) {
		key, err := kp.Current(context.Background())
		if err != nil {
			return nil, err
		}
		assert.Equal(t, key.KeyID, tok.Header["kid"])
		return &key.PrivateKey.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	require.NoError(t, err)
	return claims
}

func TestOpenIDOnlyCarriesNoProfileClaims(t *testing.T) {
	t.Parallel()

	users := &countingUsers{user: fakeUser()}
	b, kp := newBuilder(t, users)

	raw, err := b.Build(context.Background(), Request{UserID: 42, ClientID: "cid", Scope: scope.NewSet(scope.OpenID)})
	require.NoError(t, err)

	claims := parse(t, kp, raw)
	keysSeen := make([]string, 0, len(claims))
	for k := range claims {
		keysSeen = append(keysSeen, k)
	}
	assert.ElementsMatch(t, []string{"sub", "iss", "aud", "iat", "exp"}, keysSeen)
	assert.Equal(t, int32(0), users.calls.Load(), "subject needs no profile lookup")
}

func TestProfileLookupHappensOnce(t *testing.T) {
	t.Parallel()

	u := fakeUser()
	users := &countingUsers{user: u}
	b, kp := newBuilder(t, users)

	raw, err := b.Build(context.Background(), Request{
		UserID:      42,
		ClientID:    "cid",
		Scope:       scope.NewSet(scope.OpenID, scope.Profile, scope.Email, scope.UserID),
		SessionAge:  ptr(int64(120)),
		Nonce:       "abc",
		AccessToken: "access",
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), users.calls.Load())

	claims := parse(t, kp, raw)
	assert.Equal(t, u.DisplayName, claims["name"])
	assert.Equal(t, u.Username, claims["preferred_username"])
	assert.EqualValues(t, u.CreatedAt.Unix(), claims["updated_at"])
	assert.Equal(t, u.Email, claims["email"])
	assert.Equal(t, true, claims["email_verified"])
	assert.EqualValues(t, 42, claims["user_id"])
	assert.EqualValues(t, models.PrivilegeModerator, claims["privilege"])
	assert.Equal(t, "abc", claims["nonce"])
	assert.Equal(t, HalfHash("access"), claims["at_hash"])
	assert.EqualValues(t, claims["iat"].(float64)-120, claims["auth_time"])
	assert.EqualValues(t, claims["iat"].(float64)+3600, claims["exp"])
}

func TestFailedLookupYieldsNoAssertion(t *testing.T) {
	t.Parallel()

	users := &countingUsers{err: errors.New("db down")}
	b, _ := newBuilder(t, users)

	raw, err := b.Build(context.Background(), Request{UserID: 42, ClientID: "cid", Scope: scope.NewSet(scope.OpenID, scope.Email)})
	assert.Error(t, err)
	assert.Empty(t, raw)
}

func TestSubjectIsPairwise(t *testing.T) {
	t.Parallel()

	b, _ := newBuilder(t, &countingUsers{user: fakeUser()})

	a := b.Subject("client-a", 42)
	assert.Equal(t, a, b.Subject("client-a", 42))
	assert.NotEqual(t, a, b.Subject("client-b", 42))
	assert.NotEqual(t, a, b.Subject("client-a", 43))
	assert.NotContains(t, a, "42")
}

func TestHalfHash(t *testing.T) {
	t.Parallel()

	// OpenID Connect Core example access token and at_hash
	assert.Equal(t, "77QmUPtjPfzWtF2AnpK9RQ", HalfHash("jHkWEdUXMU1BwAsC4vtUsZwnNvTIxEl0z9K3vx5KF0Y"))
}

func ptr[T any](v T) *T {
	return &v
}

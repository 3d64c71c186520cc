package tokens

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oidcprovider/internal/domain/models"
	"oidcprovider/internal/domain/scope"
	"oidcprovider/internal/storage/memory"
)

type fixture struct {
	svc       *Service
	mem       *memory.Storage
	client    *models.Client
	consentID int64
}

func newFixture(t *testing.T, consented scope.Set) *fixture {
	t.Helper()
	mem := memory.New()
	ctx := context.Background()
	client := &models.Client{
		ClientID:     "cid",
		OwnerID:      1,
		Name:         "demo",
		RedirectURIs: []string{"https://rp.example/cb"},
		Scope:        scope.NewSet(scope.OpenID, scope.Email, scope.Profile, scope.OfflineAccess),
	}
	_, err := mem.CreateClient(ctx, client, 5)
	require.NoError(t, err)
	consentID, err := mem.UpsertConsent(ctx, 7, client.ID, consented, nil, time.Now())
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(log, mem, mem, 12*time.Minute, time.Hour, 90*24*time.Hour)
	return &fixture{svc: svc, mem: mem, client: client, consentID: consentID}
}

func TestCodeRoundTrip(t *testing.T) {
	t.Parallel()

	f := newFixture(t, scope.NewSet(scope.OpenID, scope.Profile))
	ctx := context.Background()
	age := int64(30)

	code, err := f.svc.IssueCode(ctx, CodeParams{
		ConsentID:           f.consentID,
		Scope:               scope.NewSet(scope.OpenID, scope.Profile),
		CodeChallenge:       "challenge",
		CodeChallengeMethod: "S256",
		SessionAge:          &age,
		Nonce:               "n-0S6_WzA2Mj",
		RedirectURI:         "https://rp.example/cb",
	})
	require.NoError(t, err)
	assert.Len(t, code, 43)

	rc, err := f.svc.RedeemCode(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, int64(7), rc.UserID)
	assert.Equal(t, f.client.ID, rc.ClientID)
	assert.Equal(t, scope.Set{scope.OpenID, scope.Profile}, rc.Scope)
	assert.Equal(t, "challenge", rc.CodeChallenge)
	assert.Equal(t, "n-0S6_WzA2Mj", rc.Nonce)
	require.NotNil(t, rc.SessionAge)
	assert.Equal(t, age, *rc.SessionAge)

	_, err = f.svc.RedeemCode(ctx, code)
	assert.ErrorIs(t, err, ErrUnknownArtifact)
}

func TestCodeRedemptionRace(t *testing.T) {
	t.Parallel()

	f := newFixture(t, scope.NewSet(scope.OpenID))
	ctx := context.Background()
	code, err := f.svc.IssueCode(ctx, CodeParams{ConsentID: f.consentID, Scope: scope.NewSet(scope.OpenID)})
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.RedeemCode(ctx, code); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestExpiredCode(t *testing.T) {
	t.Parallel()

	f := newFixture(t, scope.NewSet(scope.OpenID))
	ctx := context.Background()
	code, err := f.svc.IssueCode(ctx, CodeParams{ConsentID: f.consentID, Scope: scope.NewSet(scope.OpenID)})
	require.NoError(t, err)

	f.svc.now = func() time.Time { return time.Now().Add(13 * time.Minute) }
	_, err = f.svc.RedeemCode(ctx, code)
	assert.ErrorIs(t, err, ErrExpiredArtifact)

	f.svc.now = time.Now
	_, err = f.svc.RedeemCode(ctx, code)
	assert.ErrorIs(t, err, ErrUnknownArtifact, "an expired code is still consumed")
}

func TestCodeScopeNarrowedToLiveConsent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, scope.NewSet(scope.OpenID))
	ctx := context.Background()
	code, err := f.svc.IssueCode(ctx, CodeParams{
		ConsentID: f.consentID,
		Scope:     scope.NewSet(scope.OpenID, scope.Email),
	})
	require.NoError(t, err)

	rc, err := f.svc.RedeemCode(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, scope.Set{scope.OpenID}, rc.Scope)
}

func TestRefreshTokenSingleUse(t *testing.T) {
	t.Parallel()

	f := newFixture(t, scope.NewSet(scope.OpenID, scope.OfflineAccess))
	ctx := context.Background()

	issued, err := f.svc.IssueRefreshToken(ctx, f.consentID, scope.NewSet(scope.OpenID, scope.OfflineAccess))
	require.NoError(t, err)
	assert.Equal(t, 90*24*time.Hour, issued.ExpiresIn)

	rt, err := f.svc.RedeemRefreshToken(ctx, issued.Value)
	require.NoError(t, err)
	assert.Equal(t, scope.Set{scope.OpenID, scope.OfflineAccess}, rt.Scope)

	_, err = f.svc.RedeemRefreshToken(ctx, issued.Value)
	assert.ErrorIs(t, err, ErrUnknownArtifact)
}

func TestAccessTokenIsNotARefreshToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t, scope.NewSet(scope.OpenID))
	ctx := context.Background()

	access, err := f.svc.IssueAccessToken(ctx, f.consentID, scope.NewSet(scope.OpenID))
	require.NoError(t, err)
	_, err = f.svc.RedeemRefreshToken(ctx, access.Value)
	assert.ErrorIs(t, err, ErrUnknownArtifact)

	at, err := f.svc.ResolveAccessToken(ctx, access.Value)
	require.NoError(t, err, "a failed refresh attempt must not consume the access token")
	assert.Equal(t, "cid", at.ClientID)
}

func TestResolveAccessTokenNarrowsToClientScope(t *testing.T) {
	t.Parallel()

	f := newFixture(t, scope.NewSet(scope.OpenID, scope.Email))
	ctx := context.Background()
	access, err := f.svc.IssueAccessToken(ctx, f.consentID, scope.NewSet(scope.OpenID, scope.Email))
	require.NoError(t, err)

	shrunk := *f.client
	shrunk.Scope = scope.NewSet(scope.OpenID)
	require.NoError(t, f.mem.UpdateClient(ctx, &shrunk))

	at, err := f.svc.ResolveAccessToken(ctx, access.Value)
	require.NoError(t, err)
	assert.Equal(t, scope.Set{scope.OpenID}, at.Scope)

	f.svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = f.svc.ResolveAccessToken(ctx, access.Value)
	assert.ErrorIs(t, err, ErrExpiredArtifact)
}

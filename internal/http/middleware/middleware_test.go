package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oidcprovider/internal/domain/models"
	"oidcprovider/internal/domain/scope"
	"oidcprovider/internal/lib/oautherr"
	"oidcprovider/internal/storage"
)

type sessionsStub map[string]*models.SessionIdentity

func (s sessionsStub) Session(_ context.Context, id string) (*models.SessionIdentity, error) {
	if identity, ok := s[id]; ok {
		return identity, nil
	}
	return nil, storage.ErrSessionNotFound
}

type resolverFunc func(token string, required ...scope.Scope) (*models.ResolvedAccessToken, error)

func (f resolverFunc) ResolveBearer(_ context.Context, token string, required ...scope.Scope) (*models.ResolvedAccessToken, error) {
	return f(token, required...)
}

func TestSessionResolvesCookie(t *testing.T) {
	t.Parallel()

	identity := &models.SessionIdentity{SessionID: "s1", UserID: 42, AuthenticatedAt: time.Now()}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	var seen *models.SessionIdentity
	h := Session(log, sessionsStub{"s1": identity})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SessionFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "s1"})
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, identity, seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "stale"})
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Nil(t, seen)
}

func TestRequireBearer(t *testing.T) {
	t.Parallel()

	resolver := resolverFunc(func(token string, required ...scope.Scope) (*models.ResolvedAccessToken, error) {
		switch token {
		case "good":
			return &models.ResolvedAccessToken{UserID: 7, Scope: scope.NewSet(required...)}, nil
		case "narrow":
			return nil, oautherr.InsufficientScope("needs openid")
		case "broken":
			return nil, errors.New("store down")
		}
		return nil, oautherr.InvalidToken("unknown")
	})
	h := RequireBearer(resolver, scope.OpenID)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NotNil(t, BearerFrom(r.Context()))
		w.WriteHeader(http.StatusTeapot)
	}))

	serve := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusTeapot, serve("Bearer good").Code)
	assert.Equal(t, http.StatusTeapot, serve("bearer good").Code)

	rec := serve("")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), `error="invalid_token"`)

	rec = serve("Bearer narrow")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), `error="insufficient_scope"`)

	rec = serve("Bearer broken")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "store down")

	assert.Equal(t, http.StatusUnauthorized, serve("Basic Zm9vOmJhcg==").Code)
}

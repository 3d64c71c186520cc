package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oidcprovider/internal/domain/models"
	"oidcprovider/internal/domain/scope"
	"oidcprovider/internal/http/middleware"
	"oidcprovider/internal/metrics"
	"oidcprovider/internal/services/assertion"
	"oidcprovider/internal/services/clients"
	"oidcprovider/internal/services/consent"
	"oidcprovider/internal/services/keys"
	"oidcprovider/internal/services/provider"
	"oidcprovider/internal/services/tokens"
	"oidcprovider/internal/storage/memory"
)

const (
	issuer     = "https://idp.example"
	consentURL = "https://idp.example/consent"
	redirect   = "https://rp.example/cb"
)

type server struct {
	*httptest.Server
	mem     *memory.Storage
	session string
	userID  int64
}

func newServer(t *testing.T) *server {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := memory.New()
	registry := clients.New(log, mem, mem,
		scope.NewSet(scope.OpenID, scope.Email, scope.Profile, scope.OfflineAccess, scope.UserID), 5)
	consents := consent.New(log, mem)
	kp := keys.New(log, mem, nil)
	builder := assertion.New(log, issuer, mem, kp, "handler-test-subject-secret-0123456789", time.Hour)
	collectors := metrics.New(prometheus.NewRegistry())

	p := provider.New(log, registry, consents,
		tokens.New(log, mem, mem, 10*time.Minute, time.Hour, 24*time.Hour),
		builder, mem, mem, collectors,
		provider.Options{Issuer: issuer, LoginURL: issuer + "/login", ConsentURL: consentURL, PendingTTL: time.Minute},
	)

	h := New(log, p, kp, registry, consents, mem, issuer)
	srv := httptest.NewServer(h.Routes(RouterOptions{
		Sessions:       mem,
		Observer:       collectors,
		Metrics:        collectors.Handler(),
		RequestTimeout: 5 * time.Second,
	}))
	t.Cleanup(srv.Close)

	user := models.User{
		ID:          gofakeit.Int64()&0xffff + 1,
		Username:    gofakeit.Username(),
		DisplayName: gofakeit.Name(),
		Email:       gofakeit.Email(),
		CreatedAt:   time.Now().UTC(),
	}
	mem.AddUser(user)
	sessionID := gofakeit.UUID()
	mem.AddSession(models.SessionIdentity{SessionID: sessionID, UserID: user.ID, AuthenticatedAt: time.Now()})

	return &server{Server: srv, mem: mem, session: sessionID, userID: user.ID}
}

// do sends a request with the session cookie and never follows redirects
func (s *server) do(t *testing.T, method, path string, body io.Reader, mutate func(*http.Request)) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, body)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookie, Value: s.session})
	if mutate != nil {
		mutate(req)
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func form(values url.Values) (io.Reader, func(*http.Request)) {
	return strings.NewReader(values.Encode()), func(r *http.Request) {
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
}

func (s *server) registerClient(t *testing.T) models.ClientCredentials {
	t.Helper()
	body, _ := json.Marshal(map[string]any{
		"name":          "demo " + gofakeit.LetterN(6),
		"scope":         []string{"openid", "profile", "offline_access"},
		"redirect_uris": []string{redirect},
	})
	resp := s.do(t, http.MethodPost, "/api/clients", bytes.NewReader(body), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[models.ClientCredentials](t, resp)
}

// obtainCode walks authorize and the consent hand-off, returning the code
func (s *server) obtainCode(t *testing.T, creds models.ClientCredentials, sc string) string {
	t.Helper()

	resp := s.do(t, http.MethodGet, "/oauth/authorize?"+url.Values{
		"response_type": {"code"},
		"client_id":     {creds.ClientID},
		"scope":         {sc},
		"state":         {"abc"},
	}.Encode(), nil, nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)

	if strings.HasPrefix(loc.String(), consentURL) {
		challenge := loc.Query().Get("consent_challenge")

		details := s.do(t, http.MethodGet, "/oauth/consent?consent_challenge="+challenge, nil, nil)
		require.Equal(t, http.StatusOK, details.StatusCode)
		prompt := decode[provider.ConsentPrompt](t, details)
		assert.Equal(t, "rp.example", prompt.Domain)

		body, ct := form(url.Values{"consent_challenge": {challenge}, "approve": {"true"}})
		decision := s.do(t, http.MethodPost, "/oauth/consent", body, ct)
		require.Equal(t, http.StatusOK, decision.StatusCode)
		loc, err = url.Parse(decode[map[string]string](t, decision)["redirect_to"])
		require.NoError(t, err)
	}

	assert.Equal(t, "abc", loc.Query().Get("state"))
	require.NotEmpty(t, loc.Query().Get("code"))
	return loc.Query().Get("code")
}

func (s *server) exchange(t *testing.T, creds models.ClientCredentials, code string) *http.Response {
	t.Helper()
	body, ct := form(url.Values{"grant_type": {"authorization_code"}, "code": {code}})
	return s.do(t, http.MethodPost, "/oauth/token", body, func(r *http.Request) {
		ct(r)
		r.SetBasicAuth(url.QueryEscape(creds.ClientID), url.QueryEscape(creds.Secret))
	})
}

func TestAuthorizationCodeFlowOverHTTP(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	creds := s.registerClient(t)
	code := s.obtainCode(t, creds, "openid profile")

	resp := s.exchange(t, creds, code)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	tok := decode[provider.TokenResponse](t, resp)
	assert.NotEmpty(t, tok.AccessToken)
	assert.NotEmpty(t, tok.IDToken)
	assert.Empty(t, tok.RefreshToken)

	info := s.do(t, http.MethodGet, "/oauth/userinfo", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+tok.AccessToken)
		r.Header.Set("Origin", "https://spa.example")
	})
	require.Equal(t, http.StatusOK, info.StatusCode)
	assert.Equal(t, "no-store", info.Header.Get("Cache-Control"))
	assert.Equal(t, "*", info.Header.Get("Access-Control-Allow-Origin"))
	claims := decode[map[string]any](t, info)
	assert.Contains(t, claims, "sub")
	assert.Contains(t, claims, "preferred_username")

	replay := s.exchange(t, creds, code)
	assert.Equal(t, http.StatusBadRequest, replay.StatusCode)
	assert.Equal(t, "invalid_grant", decode[map[string]string](t, replay)["error"])
}

func TestTokenEndpointClientAuthentication(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	creds := s.registerClient(t)
	code := s.obtainCode(t, creds, "openid")

	bad := creds
	bad.Secret = "wrong"
	resp := s.exchange(t, bad, code)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Basic")
	assert.Equal(t, "invalid_client", decode[map[string]string](t, resp)["error"])

	body, ct := form(url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {creds.ClientID},
		"client_secret": {creds.Secret},
	})
	resp = s.do(t, http.MethodPost, "/oauth/token", body, ct)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "client_secret_post works too")
}

func TestAuthorizeErrorsBeforeRedirectRenderPage(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	creds := s.registerClient(t)

	resp := s.do(t, http.MethodGet, "/oauth/authorize?"+url.Values{
		"response_type": {"code"},
		"client_id":     {creds.ClientID},
		"redirect_uri":  {"https://evil.example/cb"},
	}.Encode(), nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Location"))
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	resp = s.do(t, http.MethodGet, "/oauth/authorize?"+url.Values{
		"response_type": {"token"},
		"client_id":     {creds.ClientID},
		"state":         {"s1"},
	}.Encode(), nil, nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "unsupported_response_type", loc.Query().Get("error"))
	assert.Equal(t, "s1", loc.Query().Get("state"))
}

func TestAnonymousAuthorizeGoesToLogin(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	creds := s.registerClient(t)

	resp := s.do(t, http.MethodGet, "/oauth/authorize?"+url.Values{
		"response_type": {"code"},
		"client_id":     {creds.ClientID},
		"scope":         {"openid"},
	}.Encode(), nil, func(r *http.Request) {
		r.Header.Del("Cookie")
	})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc := resp.Header.Get("Location")
	assert.True(t, strings.HasPrefix(loc, issuer+"/login?return_to="), loc)
}

func TestAuthorizeWithoutScopeOrDefaultScope(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	creds := s.registerClient(t)

	resp := s.do(t, http.MethodGet, "/oauth/authorize?"+url.Values{
		"response_type": {"code"},
		"client_id":     {creds.ClientID},
		"state":         {"s2"},
	}.Encode(), nil, nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "rp.example", loc.Host)
	assert.Equal(t, "invalid_scope", loc.Query().Get("error"))
	assert.Equal(t, "s2", loc.Query().Get("state"))
}

func TestAuthorizeUnknownClientRendersPage(t *testing.T) {
	t.Parallel()

	s := newServer(t)

	resp := s.do(t, http.MethodGet, "/oauth/authorize?"+url.Values{
		"response_type": {"code"},
		"client_id":     {gofakeit.UUID()},
		"redirect_uri":  {redirect},
	}.Encode(), nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Location"))
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
}

func TestBearerGuard(t *testing.T) {
	t.Parallel()

	s := newServer(t)

	resp := s.do(t, http.MethodGet, "/oauth/userinfo", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), `error="invalid_token"`)

	resp = s.do(t, http.MethodGet, "/oauth/userinfo", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+gofakeit.LetterN(43))
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestClientsAPI(t *testing.T) {
	t.Parallel()

	s := newServer(t)

	resp := s.do(t, http.MethodGet, "/api/clients", nil, func(r *http.Request) { r.Header.Del("Cookie") })
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	creds := s.registerClient(t)

	resp = s.do(t, http.MethodGet, "/api/clients", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]map[string]any](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, creds.ClientID, list[0]["client_id"])
	assert.NotContains(t, list[0], "secret_hash")

	body, _ := json.Marshal(map[string]any{
		"name":          "renamed",
		"scope":         []string{"openid"},
		"redirect_uris": []string{redirect},
		"reroll_secret": true,
	})
	resp = s.do(t, http.MethodPut, "/api/clients/"+creds.ClientID, bytes.NewReader(body), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rerolled := decode[models.ClientCredentials](t, resp)
	assert.NotEmpty(t, rerolled.Secret)
	assert.NotEqual(t, creds.Secret, rerolled.Secret)

	body, _ = json.Marshal(map[string]any{"name": "x", "scope": []string{"modtools"}, "redirect_uris": []string{redirect}})
	resp = s.do(t, http.MethodPost, "/api/clients", bytes.NewReader(body), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body, _ = json.Marshal(map[string]any{"name": "x", "scope": []string{"openid"}, "redirect_uris": []string{"ftp://x"}})
	resp = s.do(t, http.MethodPost, "/api/clients", bytes.NewReader(body), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodDelete, "/api/clients/"+creds.ClientID, nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = s.do(t, http.MethodDelete, "/api/clients/"+creds.ClientID, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConsentsAPIRevocationKillsTokens(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	creds := s.registerClient(t)
	resp := s.exchange(t, creds, s.obtainCode(t, creds, "openid offline_access"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tok := decode[provider.TokenResponse](t, resp)

	resp = s.do(t, http.MethodGet, "/api/consents", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]models.ConsentSummary](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, "rp.example", list[0].Domain)

	resp = s.do(t, http.MethodDelete, "/api/consents/"+strconv.FormatInt(list[0].ID, 10), nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/oauth/userinfo", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	body, ct := form(url.Values{"grant_type": {"refresh_token"}, "refresh_token": {tok.RefreshToken}})
	resp = s.do(t, http.MethodPost, "/oauth/token", body, func(r *http.Request) {
		ct(r)
		r.SetBasicAuth(creds.ClientID, creds.Secret)
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWellKnownAndOps(t *testing.T) {
	t.Parallel()

	s := newServer(t)

	resp := s.do(t, http.MethodGet, "/.well-known/openid-configuration", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc := decode[map[string]any](t, resp)
	assert.Equal(t, issuer, doc["issuer"])
	assert.Equal(t, issuer+"/oauth/token", doc["token_endpoint"])
	assert.ElementsMatch(t, []any{"authorization_code", "refresh_token"}, doc["grant_types_supported"])
	assert.ElementsMatch(t, []any{"client_secret_basic", "client_secret_post"}, doc["token_endpoint_auth_methods_supported"])
	assert.Len(t, doc["scopes_supported"], len(scope.Supported))

	resp = s.do(t, http.MethodGet, "/.well-known/jwks.json", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	set := decode[map[string][]map[string]any](t, resp)
	assert.Empty(t, set["keys"], "no key is generated before the first signature")

	creds := s.registerClient(t)
	require.Equal(t, http.StatusOK, s.exchange(t, creds, s.obtainCode(t, creds, "openid")).StatusCode)

	resp = s.do(t, http.MethodGet, "/.well-known/jwks.json", nil, nil)
	set = decode[map[string][]map[string]any](t, resp)
	require.Len(t, set["keys"], 1)
	assert.Equal(t, "RS256", set["keys"][0]["alg"])
	assert.NotContains(t, set["keys"][0], "d", "private material must never be published")

	resp = s.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `oidc_tokens_issued_total{grant_type="authorization_code",kind="access"} 1`)
	assert.Contains(t, string(raw), `route="/oauth/token"`)
}

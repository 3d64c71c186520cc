package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"oidcprovider/internal/domain/models"
	"oidcprovider/internal/domain/scope"
	"oidcprovider/internal/lib/oautherr"
	"oidcprovider/internal/storage"
)

// SessionCookie is the platform login cookie carrying the session id
const SessionCookie = "session"

type contextKey string

const (
	sessionKey contextKey = "session"
	bearerKey  contextKey = "bearer"
)

type SessionProvider interface {
	Session(ctx context.Context, sessionID string) (*models.SessionIdentity, error)
}

type BearerResolver interface {
	ResolveBearer(ctx context.Context, token string, required ...scope.Scope) (*models.ResolvedAccessToken, error)
}

type RequestObserver interface {
	ObserveRequest(route, status string, elapsed time.Duration)
}

// Session resolves the session cookie into the request context.
// A missing or stale session leaves the request anonymous.
func Session(log *slog.Logger, sessions SessionProvider) func(http.Handler) http.Handler {
	const op = "middleware.Session"

	log = log.With(slog.String("op", op))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookie)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}
			identity, err := sessions.Session(r.Context(), cookie.Value)
			if err != nil {
				if !errors.Is(err, storage.ErrSessionNotFound) {
					log.Error("session lookup failed", slog.String("error", err.Error()))
				}
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, identity)))
		})
	}
}

// SessionFrom returns the signed in user, nil when anonymous
func SessionFrom(ctx context.Context) *models.SessionIdentity {
	identity, _ := ctx.Value(sessionKey).(*models.SessionIdentity)
	return identity
}

// RequireSession answers 401 to anonymous requests
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if SessionFrom(r.Context()) == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"login_required","error_description":"sign in first"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireBearer guards a resource with an access token carrying every required scope
func RequireBearer(resolver BearerResolver, required ...scope.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			at, err := resolver.ResolveBearer(r.Context(), BearerToken(r), required...)
			if err != nil {
				WriteBearerError(w, oautherr.From(err))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), bearerKey, at)))
		})
	}
}

// BearerFrom returns the access token resolved by RequireBearer
func BearerFrom(ctx context.Context) *models.ResolvedAccessToken {
	at, _ := ctx.Value(bearerKey).(*models.ResolvedAccessToken)
	return at
}

// BearerToken extracts the token of an Authorization: Bearer header
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// WriteBearerError answers a failed bearer check with a WWW-Authenticate challenge
func WriteBearerError(w http.ResponseWriter, e *oautherr.Error) {
	status := http.StatusUnauthorized
	description := e.Description
	if e.Code == oautherr.CodeServerError {
		status = http.StatusInternalServerError
	} else {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer error=%q, error_description=%q`, e.Code, description))
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"error":%q,"error_description":%q}`, e.Code, description)
}

// NoStore marks responses as uncacheable
func NoStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		next.ServeHTTP(w, r)
	})
}

// RequestLogger writes one access log line per request
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("request",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Int("status", ww.Status()),
					slog.Duration("duration", time.Since(start)),
					slog.String("request_id", chimw.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// Metrics observes request latency per matched route pattern
func Metrics(observer RequestObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			observer.ObserveRequest(route, strconv.Itoa(status), time.Since(start))
		})
	}
}

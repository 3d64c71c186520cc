package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"oidcprovider/internal/domain/scope"
	"oidcprovider/internal/http/handlers/interfaces"
	"oidcprovider/internal/http/middleware"
)

// Handler serves the provider's HTTP surface
type Handler struct {
	log      *slog.Logger
	provider interfaces.OAuthProvider
	keys     interfaces.KeySet
	clients  interfaces.ClientManager
	consents interfaces.ConsentManager
	health   interfaces.Pinger
	issuer   string
}

// New returns a new instance of the HTTP Handler
func New(
	log *slog.Logger,
	provider interfaces.OAuthProvider,
	keys interfaces.KeySet,
	clients interfaces.ClientManager,
	consents interfaces.ConsentManager,
	health interfaces.Pinger,
	issuer string,
) *Handler {
	return &Handler{
		log:      log,
		provider: provider,
		keys:     keys,
		clients:  clients,
		consents: consents,
		health:   health,
		issuer:   issuer,
	}
}

// RouterOptions carries the collaborators that only the router needs
type RouterOptions struct {
	Sessions       middleware.SessionProvider
	Observer       middleware.RequestObserver
	Metrics        http.Handler
	RequestTimeout time.Duration
}

// Routes builds the chi router
func (h *Handler) Routes(opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(h.log))
	if opts.Observer != nil {
		r.Use(middleware.Metrics(opts.Observer))
	}
	r.Use(chimw.Recoverer)
	if opts.RequestTimeout > 0 {
		r.Use(chimw.Timeout(opts.RequestTimeout))
	}

	r.Get("/healthz", h.Health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	// public resources any origin may read
	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         600,
		}))
		r.Get("/.well-known/openid-configuration", h.Discovery)
		r.Options("/.well-known/openid-configuration", preflight)
		r.Get("/.well-known/jwks.json", h.JWKS)
		r.Options("/.well-known/jwks.json", preflight)

		r.Group(func(r chi.Router) {
			r.Use(middleware.NoStore, middleware.RequireBearer(h.provider, scope.OpenID))
			r.Get("/oauth/userinfo", h.UserInfo)
			r.Post("/oauth/userinfo", h.UserInfo)
		})
		r.Options("/oauth/userinfo", preflight)
	})

	r.With(middleware.NoStore).Post("/oauth/token", h.Token)

	r.Group(func(r chi.Router) {
		if opts.Sessions != nil {
			r.Use(middleware.Session(h.log, opts.Sessions))
		}
		r.Get("/oauth/authorize", h.Authorize)
		r.Post("/oauth/authorize", h.Authorize)

		r.Group(func(r chi.Router) {
			r.Use(middleware.NoStore)
			r.Get("/oauth/consent", h.ConsentDetails)
			r.Post("/oauth/consent", h.ConsentDecision)
		})

		r.Route("/api", func(r chi.Router) {
			r.Use(middleware.RequireSession, middleware.NoStore)
			r.Get("/clients", h.ListClients)
			r.Post("/clients", h.CreateClient)
			r.Put("/clients/{client_id}", h.UpdateClient)
			r.Delete("/clients/{client_id}", h.DeleteClient)
			r.Get("/consents", h.ListConsents)
			r.Delete("/consents/{id}", h.RevokeConsent)
		})
	})

	return r
}

// preflight is reached only when cors.Handler let a non-preflight OPTIONS through
func preflight(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

package provider

import (
	"log/slog"
	"time"

	"oidcprovider/internal/services/provider/interfaces"
)

// Security events are logged at warn level under these names
const (
	eventCodeRejected      = "authorization_code_rejected"
	eventCodeClientSwap    = "authorization_code_client_mismatch"
	eventRefreshRejected   = "refresh_token_rejected"
	eventRefreshClientSwap = "refresh_token_client_mismatch"
	eventPKCEFailure       = "pkce_verification_failed"
	eventRedirectMismatch  = "redirect_uri_mismatch"
)

// Options are the endpoints and lifetimes the orchestrator needs
type Options struct {
	Issuer     string
	LoginURL   string
	ConsentURL string
	PendingTTL time.Duration
}

// Provider ties the registry, consent, token and assertion services into the
// authorization code and refresh token flows
type Provider struct {
	log        *slog.Logger
	clients    interfaces.ClientRegistry
	consents   interfaces.ConsentStore
	tokens     interfaces.TokenService
	assertions interfaces.AssertionBuilder
	users      interfaces.UserProvider
	pending    interfaces.PendingStorage
	metrics    interfaces.Metrics
	opts       Options
	now        func() time.Time
}

// New returns a new instance of the Provider orchestrator
func New(
	log *slog.Logger,
	clients interfaces.ClientRegistry,
	consents interfaces.ConsentStore,
	tokens interfaces.TokenService,
	assertions interfaces.AssertionBuilder,
	users interfaces.UserProvider,
	pending interfaces.PendingStorage,
	metrics interfaces.Metrics,
	opts Options,
) *Provider {
	return &Provider{
		log:        log,
		clients:    clients,
		consents:   consents,
		tokens:     tokens,
		assertions: assertions,
		users:      users,
		pending:    pending,
		metrics:    metrics,
		opts:       opts,
		now:        time.Now,
	}
}

func (p *Provider) securityEvent(log *slog.Logger, event string, attrs ...any) {
	log.Warn("security event", append([]any{slog.String("event", event)}, attrs...)...)
}

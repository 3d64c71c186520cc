package clients

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"oidcprovider/internal/domain/models"
	"oidcprovider/internal/domain/scope"
	"oidcprovider/internal/lib/random"
	"oidcprovider/internal/lib/utilities"
	"oidcprovider/internal/services/clients/interfaces"
	"oidcprovider/internal/storage"
)

// Registration limits
const (
	maxRedirectURIs      = 5
	maxRedirectURIsChars = 255
	maxNameLength        = 64
)

// ErrInvalidRegistration wraps every user-correctable registration problem
var ErrInvalidRegistration = errors.New("invalid client registration")

// dummyHash keeps the cost of rejecting an unknown client equal to rejecting a bad secret
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("unknown-client-placeholder"), bcrypt.DefaultCost)

type Registry struct {
	log         *slog.Logger
	storage     interfaces.ClientStorage
	provider    interfaces.ClientProvider
	registrable scope.Set
	maxPerOwner int
	now         func() time.Time
}

// New returns a new instance of the client Registry
func New(
	log *slog.Logger,
	storage interfaces.ClientStorage,
	provider interfaces.ClientProvider,
	registrable scope.Set,
	maxPerOwner int,
) *Registry {
	return &Registry{
		log:         log,
		storage:     storage,
		provider:    provider,
		registrable: registrable,
		maxPerOwner: maxPerOwner,
		now:         time.Now,
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRegistration, fmt.Sprintf(format, args...))
}

func (r *Registry) validate(reg *models.ClientRegistration) error {
	reg.Name = strings.TrimSpace(reg.Name)
	if reg.Name == "" {
		return invalid("name is required")
	}
	if len(reg.Name) > maxNameLength {
		return invalid("name must be at most %d characters", maxNameLength)
	}

	if len(reg.RedirectURIs) == 0 {
		return invalid("at least one redirect uri is required")
	}
	if len(reg.RedirectURIs) > maxRedirectURIs {
		return invalid("at most %d redirect uris are allowed", maxRedirectURIs)
	}
	total := 0
	seen := make(map[string]struct{}, len(reg.RedirectURIs))
	for _, uri := range reg.RedirectURIs {
		if !utilities.ValidRedirectURI(uri) {
			return invalid("redirect uri %q must be an absolute http(s) uri without fragment", uri)
		}
		if _, dup := seen[uri]; dup {
			return invalid("redirect uri %q is listed twice", uri)
		}
		seen[uri] = struct{}{}
		total += len(uri)
	}
	if total > maxRedirectURIsChars {
		return invalid("redirect uris may total at most %d characters", maxRedirectURIsChars)
	}

	if reg.Scope.Empty() {
		return invalid("at least one scope is required")
	}
	if extra := reg.Scope.Without(r.registrable); !extra.Empty() {
		return invalid("scope %q may not be registered", extra.String())
	}
	if !reg.DefaultScope.SubsetOf(reg.Scope) {
		return invalid("default scope must be a subset of scope")
	}
	if reg.ImageURL != "" && !utilities.ValidRedirectURI(reg.ImageURL) {
		return invalid("image url must be an absolute http(s) uri")
	}
	return nil
}

func newSecret() (string, []byte, error) {
	secret, err := random.Token()
	if err != nil {
		return "", nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, err
	}
	return secret, hash, nil
}

// Register creates a client, or updates an owned one when reg.ExistingClientID is set.
// The plaintext secret is only returned on create or reroll.
func (r *Registry) Register(ctx context.Context, reg models.ClientRegistration) (*models.ClientCredentials, error) {
	const op = "clients.Register"

	log := r.log.With(slog.String("op", op), slog.Int64("owner_id", reg.OwnerID))

	if err := r.validate(&reg); err != nil {
		return nil, err
	}
	if reg.ExistingClientID != "" {
		return r.update(ctx, log, reg)
	}

	secret, hash, err := newSecret()
	if err != nil {
		log.Error("failed to generate client secret", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	client := &models.Client{
		ClientID:     uuid.NewString(),
		OwnerID:      reg.OwnerID,
		Name:         reg.Name,
		SecretHash:   hash,
		RedirectURIs: reg.RedirectURIs,
		Scope:        reg.Scope,
		DefaultScope: reg.DefaultScope,
		ImageURL:     reg.ImageURL,
	}
	if _, err := r.storage.CreateClient(ctx, client, r.maxPerOwner); err != nil {
		if errors.Is(err, storage.ErrClientNameTaken) || errors.Is(err, storage.ErrClientLimitReached) {
			log.Info("client registration refused", slog.String("reason", err.Error()))
			return nil, err
		}
		log.Error("failed to create client", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("client registered", slog.String("client_id", client.ClientID))
	return &models.ClientCredentials{ClientID: client.ClientID, Secret: secret}, nil
}

func (r *Registry) update(ctx context.Context, log *slog.Logger, reg models.ClientRegistration) (*models.ClientCredentials, error) {
	const op = "clients.update"

	existing, err := r.provider.ClientByClientID(ctx, reg.ExistingClientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, storage.ErrClientNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	// never reveal that someone else's client exists
	if existing.OwnerID != reg.OwnerID {
		log.Warn("update of foreign client refused", slog.String("client_id", reg.ExistingClientID))
		return nil, storage.ErrClientNotFound
	}

	existing.Name = reg.Name
	existing.RedirectURIs = reg.RedirectURIs
	existing.Scope = reg.Scope
	existing.DefaultScope = reg.DefaultScope
	existing.ImageURL = reg.ImageURL

	creds := &models.ClientCredentials{ClientID: existing.ClientID}
	if reg.RerollSecret {
		secret, hash, err := newSecret()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		existing.SecretHash = hash
		creds.Secret = secret
	}

	if err := r.storage.UpdateClient(ctx, existing); err != nil {
		if errors.Is(err, storage.ErrClientNameTaken) || errors.Is(err, storage.ErrClientNotFound) {
			return nil, err
		}
		log.Error("failed to update client", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("client updated", slog.String("client_id", existing.ClientID), slog.Bool("secret_rerolled", reg.RerollSecret))
	return creds, nil
}

// Lookup gets a client by its external id
func (r *Registry) Lookup(ctx context.Context, clientID string) (*models.Client, error) {
	const op = "clients.Lookup"

	if clientID == "" {
		return nil, storage.ErrClientNotFound
	}
	client, err := r.provider.ClientByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, storage.ErrClientNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return client, nil
}

// Authenticate checks a client secret. Unknown clients and wrong secrets are indistinguishable.
func (r *Registry) Authenticate(ctx context.Context, clientID, secret string) (*models.Client, error) {
	const op = "clients.Authenticate"

	client, err := r.Lookup(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(secret))
			return nil, storage.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := bcrypt.CompareHashAndPassword(client.SecretHash, []byte(secret)); err != nil {
		r.log.With(slog.String("op", op)).Info("invalid client secret", slog.String("client_id", clientID))
		return nil, storage.ErrInvalidCredentials
	}
	return client, nil
}

// Touch records client usage; failures are only logged
func (r *Registry) Touch(ctx context.Context, id int64) {
	const op = "clients.Touch"

	if err := r.storage.TouchClient(ctx, id, r.now().UTC()); err != nil {
		r.log.With(slog.String("op", op)).Debug("failed to touch client", slog.String("error", err.Error()))
	}
}

// Delete removes an owned client; false when the caller owns no such client
func (r *Registry) Delete(ctx context.Context, ownerID int64, clientID string) (bool, error) {
	const op = "clients.Delete"

	deleted, err := r.storage.DeleteClient(ctx, ownerID, clientID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if deleted {
		r.log.With(slog.String("op", op)).Info("client deleted", slog.String("client_id", clientID))
	}
	return deleted, nil
}

// List returns the caller's clients
func (r *Registry) List(ctx context.Context, ownerID int64) ([]models.Client, error) {
	const op = "clients.List"

	clients, err := r.provider.ClientsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return clients, nil
}

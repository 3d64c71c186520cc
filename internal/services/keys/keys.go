package keys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/jwa"
	"github.com/lestrrat-go/jwx/jwk"

	"oidcprovider/internal/domain/models"
	"oidcprovider/internal/services/keys/interfaces"
)

const rsaBits = 2048

var ErrNoSigningKey = errors.New("no signing key available")

// keySet is an immutable snapshot; readers never observe a half-applied reload
type keySet struct {
	current *models.SigningKey
	all     []models.SigningKey
	public  jwk.Set
}

// Provider holds the signing keys. The newest stored key signs, all stored keys verify.
type Provider struct {
	log       *slog.Logger
	storage   interfaces.KeyStorage
	publisher interfaces.RotationPublisher

	// retention is how long a replaced key stays published; zero keeps every key
	retention time.Duration

	// mu serializes reloads and generation
	mu       sync.Mutex
	snapshot atomic.Pointer[keySet]
	now      func() time.Time
}

// New returns a new instance of the key Provider. publisher may be nil.
func New(log *slog.Logger, storage interfaces.KeyStorage, publisher interfaces.RotationPublisher) *Provider {
	return &Provider{
		log:       log,
		storage:   storage,
		publisher: publisher,
		now:       time.Now,
	}
}

// WithRetention drops replaced keys once their successor is older than d.
// d should cover the lifetime of the assertions the replaced key signed.
func (p *Provider) WithRetention(d time.Duration) *Provider {
	p.retention = d
	return p
}

// Current returns the signing key, generating and persisting one if none exists
func (p *Provider) Current(ctx context.Context) (*models.SigningKey, error) {
	if snap := p.snapshot.Load(); snap != nil && snap.current != nil {
		return snap.current, nil
	}
	snap, err := p.reload(ctx, true)
	if err != nil {
		return nil, err
	}
	return snap.current, nil
}

// PublicKeySet returns the verification keys of every stored key; empty if there are none
func (p *Provider) PublicKeySet(ctx context.Context) (jwk.Set, error) {
	if snap := p.snapshot.Load(); snap != nil {
		return snap.public, nil
	}
	snap, err := p.reload(ctx, false)
	if err != nil {
		return nil, err
	}
	return snap.public, nil
}

// Reload re-reads the stored keys, regenerating if the stored material is gone
func (p *Provider) Reload(ctx context.Context) error {
	_, err := p.reload(ctx, true)
	return err
}

// Rotate generates a new signing key, persists it and announces it
func (p *Provider) Rotate(ctx context.Context) (*models.SigningKey, error) {
	const op = "keys.Rotate"

	log := p.log.With(slog.String("op", op))

	p.mu.Lock()
	key, err := p.generateLocked(ctx)
	if err == nil {
		_, err = p.loadLocked(ctx, false)
	}
	p.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	p.announce(ctx, key.KeyID)
	log.Info("signing key rotated", slog.String("kid", key.KeyID))
	return key, nil
}

// Purge deletes every stored key; the next Current call generates a fresh one
func (p *Provider) Purge(ctx context.Context) (int, error) {
	const op = "keys.Purge"

	p.mu.Lock()
	n, err := p.storage.DeleteSigningKeys(ctx)
	if err == nil {
		p.snapshot.Store(nil)
	}
	p.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	p.announce(ctx, "")
	p.log.With(slog.String("op", op)).Warn("signing keys purged", slog.Int("count", n))
	return n, nil
}

// Watch reloads on every interval tick and on every announced rotation until ctx is done.
// subscriber may be nil.
func (p *Provider) Watch(ctx context.Context, interval time.Duration, subscriber interfaces.RotationSubscriber) {
	const op = "keys.Watch"

	log := p.log.With(slog.String("op", op))

	var events <-chan string
	if subscriber != nil {
		ch, err := subscriber.SubscribeRotations(ctx)
		if err != nil {
			log.Warn("rotation subscription failed, falling back to polling", slog.String("error", err.Error()))
		} else {
			events = ch
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case kid, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			log.Info("rotation announced", slog.String("kid", kid))
			p.reloadLogged(ctx, log)
		case <-ticker.C:
			p.reloadLogged(ctx, log)
		}
	}
}

func (p *Provider) reloadLogged(ctx context.Context, log *slog.Logger) {
	before := p.snapshot.Load()
	if err := p.Reload(ctx); err != nil {
		log.Error("signing key reload failed", slog.String("error", err.Error()))
		return
	}
	after := p.snapshot.Load()
	if before == nil || before.current == nil || after.current.KeyID != before.current.KeyID {
		log.Info("signing key changed", slog.String("kid", after.current.KeyID))
	}
}

func (p *Provider) reload(ctx context.Context, ensure bool) (*keySet, error) {
	const op = "keys.reload"

	p.mu.Lock()
	defer p.mu.Unlock()

	snap, err := p.loadLocked(ctx, ensure)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return snap, nil
}

// loadLocked reads the store and swaps in a fresh snapshot. With ensure set,
// an empty store gets a newly generated key first.
func (p *Provider) loadLocked(ctx context.Context, ensure bool) (*keySet, error) {
	stored, err := p.storage.SigningKeys(ctx)
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 && ensure {
		key, err := p.generateLocked(ctx)
		if err != nil {
			return nil, err
		}
		p.log.Info("generated signing key", slog.String("kid", key.KeyID))
		stored = []models.SigningKey{*key}
	}

	stored = p.pruneLocked(ctx, stored)

	public, err := publicSet(stored)
	if err != nil {
		return nil, err
	}
	snap := &keySet{all: stored, public: public}
	if len(stored) > 0 {
		snap.current = &stored[0]
	}
	p.snapshot.Store(snap)
	return snap, nil
}

// pruneLocked deletes keys replaced longer than the retention window ago and returns the rest.
// A failed delete is retried on the next reload; the key is unpublished either way.
func (p *Provider) pruneLocked(ctx context.Context, stored []models.SigningKey) []models.SigningKey {
	if p.retention <= 0 {
		return stored
	}
	cutoff := p.now().Add(-p.retention)
	keep := len(stored)
	for i := 1; i < len(stored); i++ {
		if !stored[i-1].CreatedAt.After(cutoff) {
			keep = i
			break
		}
	}
	for _, k := range stored[keep:] {
		if err := p.storage.DeleteSigningKey(ctx, k.KeyID); err != nil {
			p.log.Warn("failed to delete retired signing key", slog.String("kid", k.KeyID), slog.String("error", err.Error()))
			continue
		}
		p.log.Info("retired signing key deleted", slog.String("kid", k.KeyID))
	}
	return stored[:keep]
}

func (p *Provider) generateLocked(ctx context.Context) (*models.SigningKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, rsaBits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	key := &models.SigningKey{
		KeyID:      uuid.NewString(),
		PrivateKey: priv,
		CreatedAt:  p.now().UTC(),
	}
	if err := p.storage.SaveSigningKey(ctx, key); err != nil {
		return nil, fmt.Errorf("persist signing key: %w", err)
	}
	return key, nil
}

func (p *Provider) announce(ctx context.Context, kid string) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishRotation(ctx, kid); err != nil {
		p.log.Warn("rotation announcement failed", slog.String("error", err.Error()))
	}
}

func publicSet(keys []models.SigningKey) (jwk.Set, error) {
	set := jwk.NewSet()
	for _, k := range keys {
		pub, err := jwk.New(&k.PrivateKey.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create JWK: %w", err)
		}
		if err := pub.Set(jwk.KeyIDKey, k.KeyID); err != nil {
			return nil, fmt.Errorf("failed to set kid: %w", err)
		}
		if err := pub.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
			return nil, fmt.Errorf("failed to set alg: %w", err)
		}
		if err := pub.Set(jwk.KeyUsageKey, string(jwk.ForSignature)); err != nil {
			return nil, fmt.Errorf("failed to set use: %w", err)
		}
		set.Add(pub)
	}
	return set, nil
}

package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"oidcprovider/internal/domain/models"
	"oidcprovider/internal/domain/scope"
	"oidcprovider/internal/lib/random"
	"oidcprovider/internal/services/tokens/interfaces"
	"oidcprovider/internal/storage"
)

var (
	// ErrUnknownArtifact covers never issued and already redeemed artifacts alike
	ErrUnknownArtifact = errors.New("unknown or already used artifact")
	ErrExpiredArtifact = errors.New("expired artifact")
)

// Issued is a freshly minted bearer artifact; Value exists only in memory and in the response
type Issued struct {
	Value     string
	ExpiresIn time.Duration
}

// Service mints and redeems authorization codes, access tokens and refresh tokens.
// Only SHA-256 digests reach the storage.
type Service struct {
	log        *slog.Logger
	codes      interfaces.CodeStorage
	tokens     interfaces.TokenStorage
	codeTTL    time.Duration
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// New returns a new instance of the token Service
func New(
	log *slog.Logger,
	codes interfaces.CodeStorage,
	tokens interfaces.TokenStorage,
	codeTTL time.Duration,
	accessTTL time.Duration,
	refreshTTL time.Duration,
) *Service {
	return &Service{
		log:        log,
		codes:      codes,
		tokens:     tokens,
		codeTTL:    codeTTL,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// AccessTTL is the lifetime of access tokens and identity assertions
func (s *Service) AccessTTL() time.Duration {
	return s.accessTTL
}

// CodeParams is the authorization request state a code carries to the token endpoint
type CodeParams struct {
	ConsentID           int64
	Scope               scope.Set
	CodeChallenge       string
	CodeChallengeMethod string
	SessionAge          *int64
	Nonce               string
	RedirectURI         string
}

// IssueCode mints a single-use authorization code
func (s *Service) IssueCode(ctx context.Context, params CodeParams) (string, error) {
	const op = "tokens.IssueCode"

	code, err := random.Token()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	err = s.codes.SaveAuthCode(ctx, &models.AuthorizationCode{
		CodeHash:            random.Hash(code),
		ConsentID:           params.ConsentID,
		Scope:               params.Scope,
		CodeChallenge:       params.CodeChallenge,
		CodeChallengeMethod: params.CodeChallengeMethod,
		Nonce:               params.Nonce,
		SessionAge:          params.SessionAge,
		RedirectURI:         params.RedirectURI,
		ExpiresAt:           s.now().UTC().Add(s.codeTTL),
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return code, nil
}

// RedeemCode consumes a code. The returned scope is narrowed to what the consent still grants.
func (s *Service) RedeemCode(ctx context.Context, code string) (*models.RedeemedCode, error) {
	const op = "tokens.RedeemCode"

	if code == "" {
		return nil, ErrUnknownArtifact
	}
	rc, err := s.codes.RedeemAuthCode(ctx, random.Hash(code))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUnknownArtifact
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	now := s.now()
	if !rc.ExpiresAt.After(now) || !consentLive(rc.ConsentExpiresAt, now) {
		return nil, ErrExpiredArtifact
	}
	rc.Scope = rc.Scope.Intersect(rc.ConsentedScope)
	return rc, nil
}

// IssueAccessToken mints an access token bound to a consent
func (s *Service) IssueAccessToken(ctx context.Context, consentID int64, sc scope.Set) (*Issued, error) {
	const op = "tokens.IssueAccessToken"

	issued, err := s.issue(ctx, models.KindAccess, consentID, sc, s.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return issued, nil
}

// IssueRefreshToken mints a single-use refresh token bound to a consent
func (s *Service) IssueRefreshToken(ctx context.Context, consentID int64, sc scope.Set) (*Issued, error) {
	const op = "tokens.IssueRefreshToken"

	issued, err := s.issue(ctx, models.KindRefresh, consentID, sc, s.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return issued, nil
}

func (s *Service) issue(ctx context.Context, kind models.TokenKind, consentID int64, sc scope.Set, ttl time.Duration) (*Issued, error) {
	value, err := random.Token()
	if err != nil {
		return nil, err
	}
	err = s.tokens.SaveToken(ctx, &models.Token{
		TokenHash: random.Hash(value),
		Kind:      kind,
		ConsentID: consentID,
		Scope:     sc,
		ExpiresAt: s.now().UTC().Add(ttl),
	})
	if err != nil {
		return nil, err
	}
	return &Issued{Value: value, ExpiresIn: ttl}, nil
}

// ResolveAccessToken validates an access token. The scope is narrowed to what both the
// consent and the client registration still allow.
func (s *Service) ResolveAccessToken(ctx context.Context, token string) (*models.ResolvedAccessToken, error) {
	const op = "tokens.ResolveAccessToken"

	if token == "" {
		return nil, ErrUnknownArtifact
	}
	at, err := s.tokens.ResolveAccessToken(ctx, random.Hash(token))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUnknownArtifact
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	now := s.now()
	if !at.ExpiresAt.After(now) || !consentLive(at.ConsentExpiresAt, now) {
		return nil, ErrExpiredArtifact
	}
	at.Scope = at.Scope.Intersect(at.ConsentedScope).Intersect(at.ClientScope)
	return at, nil
}

// RedeemRefreshToken consumes a refresh token. Issuing its replacement is the caller's job.
func (s *Service) RedeemRefreshToken(ctx context.Context, token string) (*models.RedeemedRefreshToken, error) {
	const op = "tokens.RedeemRefreshToken"

	if token == "" {
		return nil, ErrUnknownArtifact
	}
	rt, err := s.tokens.RedeemRefreshToken(ctx, random.Hash(token))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUnknownArtifact
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	now := s.now()
	if !rt.ExpiresAt.After(now) || !consentLive(rt.ConsentExpiresAt, now) {
		return nil, ErrExpiredArtifact
	}
	rt.Scope = rt.Scope.Intersect(rt.ConsentedScope)
	return rt, nil
}

func consentLive(expiresAt *time.Time, now time.Time) bool {
	return expiresAt == nil || expiresAt.After(now)
}

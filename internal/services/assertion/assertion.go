package assertion

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"oidcprovider/internal/domain/models"
	"oidcprovider/internal/domain/scope"
	"oidcprovider/internal/services/assertion/interfaces"
)

// claimSource produces the claims of one scope. user loads the profile at most once per build.
type claimSource func(ctx context.Context, b *Builder, in *claimInput) (jwt.MapClaims, error)

type claimInput struct {
	userID   int64
	clientID string
	user     func(ctx context.Context) (*models.User, error)
}

// claimSources maps every claim-bearing scope to its producer. Scopes absent here
// (offline_access, game_data, achievements, modtools) gate API access, not claims.
var claimSources = map[scope.Scope]claimSource{
	scope.OpenID:  subjectClaims,
	scope.Profile: profileClaims,
	scope.Email:   emailClaims,
	scope.UserID:  userIDClaims,
}

func subjectClaims(_ context.Context, b *Builder, in *claimInput) (jwt.MapClaims, error) {
	return jwt.MapClaims{"sub": b.Subject(in.clientID, in.userID)}, nil
}

func profileClaims(ctx context.Context, _ *Builder, in *claimInput) (jwt.MapClaims, error) {
	u, err := in.user(ctx)
	if err != nil {
		return nil, err
	}
	name := u.DisplayName
	if name == "" {
		name = u.Username
	}
	return jwt.MapClaims{
		"name":               name,
		"preferred_username": u.Username,
		"updated_at":         u.CreatedAt.Unix(),
	}, nil
}

func emailClaims(ctx context.Context, _ *Builder, in *claimInput) (jwt.MapClaims, error) {
	u, err := in.user(ctx)
	if err != nil {
		return nil, err
	}
	return jwt.MapClaims{
		"email":          u.Email,
		"email_verified": u.EmailVerified,
	}, nil
}

func userIDClaims(ctx context.Context, _ *Builder, in *claimInput) (jwt.MapClaims, error) {
	u, err := in.user(ctx)
	if err != nil {
		return nil, err
	}
	return jwt.MapClaims{
		"user_id":   u.ID,
		"privilege": int(u.Privilege),
		"verified":  u.Verified,
	}, nil
}

// Builder assembles and signs identity assertions and userinfo payloads
type Builder struct {
	log           *slog.Logger
	issuer        string
	users         interfaces.UserProvider
	keys          interfaces.KeyProvider
	subjectSecret []byte
	ttl           time.Duration
	now           func() time.Time
}

// New returns a new instance of the assertion Builder
func New(
	log *slog.Logger,
	issuer string,
	users interfaces.UserProvider,
	keys interfaces.KeyProvider,
	subjectSecret string,
	ttl time.Duration,
) *Builder {
	return &Builder{
		log:           log,
		issuer:        issuer,
		users:         users,
		keys:          keys,
		subjectSecret: []byte(subjectSecret),
		ttl:           ttl,
		now:           time.Now,
	}
}

// Subject is the pairwise identifier of userID as seen by clientID
func (b *Builder) Subject(clientID string, userID int64) string {
	mac := hmac.New(sha256.New, b.subjectSecret)
	mac.Write([]byte(clientID))
	mac.Write([]byte{'|'})
	mac.Write([]byte(strconv.FormatInt(userID, 10)))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Claims returns the scope-gated claims for a user, loading the profile at most once
func (b *Builder) Claims(ctx context.Context, userID int64, clientID string, sc scope.Set) (jwt.MapClaims, error) {
	const op = "assertion.Claims"

	var (
		loaded *models.User
		err    error
	)
	in := &claimInput{
		userID:   userID,
		clientID: clientID,
		user: func(ctx context.Context) (*models.User, error) {
			if loaded == nil && err == nil {
				loaded, err = b.users.UserByID(ctx, userID)
			}
			return loaded, err
		},
	}

	claims := jwt.MapClaims{}
	for _, s := range sc {
		source, ok := claimSources[s]
		if !ok {
			continue
		}
		part, err := source(ctx, b, in)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		for k, v := range part {
			claims[k] = v
		}
	}
	return claims, nil
}

// Request describes one identity assertion
type Request struct {
	UserID   int64
	ClientID string
	Scope    scope.Set
	// Known claims are merged in last and win over scope-derived ones
	Known       jwt.MapClaims
	SessionAge  *int64
	Nonce       string
	AccessToken string
	Code        string
}

// Build signs an identity assertion. On any failure nothing is returned, never a partial token.
func (b *Builder) Build(ctx context.Context, req Request) (string, error) {
	const op = "assertion.Build"

	log := b.log.With(slog.String("op", op), slog.String("client_id", req.ClientID))

	claims, err := b.Claims(ctx, req.UserID, req.ClientID, req.Scope)
	if err != nil {
		log.Error("failed to collect claims", slog.String("error", err.Error()))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	now := b.now()
	claims["iss"] = b.issuer
	claims["aud"] = req.ClientID
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(b.ttl).Unix()
	if req.SessionAge != nil {
		claims["auth_time"] = now.Unix() - *req.SessionAge
	}
	if req.Nonce != "" {
		claims["nonce"] = req.Nonce
	}
	if req.AccessToken != "" {
		claims["at_hash"] = HalfHash(req.AccessToken)
	}
	if req.Code != "" {
		claims["c_hash"] = HalfHash(req.Code)
	}
	for k, v := range req.Known {
		claims[k] = v
	}

	key, err := b.keys.Current(ctx)
	if err != nil {
		log.Error("no signing key", slog.String("error", err.Error()))
		return "", fmt.Errorf("%s: %w", op, err)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = key.KeyID
	signed, err := token.SignedString(key.PrivateKey)
	if err != nil {
		log.Error("failed to sign assertion", slog.String("error", err.Error()))
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return signed, nil
}

// HalfHash is the at_hash / c_hash encoding for RS256: the left half of the SHA-256 digest
func HalfHash(value string) string {
	sum := sha256.Sum256([]byte(value))
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
}

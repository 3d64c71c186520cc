package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"oidcprovider/internal/domain/models"
	"oidcprovider/internal/domain/scope"
	"oidcprovider/internal/storage"
)

// Storage keeps every provider table in process memory. A single mutex makes each
// redemption an atomic read-and-delete, matching the postgres contract.
type Storage struct {
	mu sync.Mutex

	clients       map[int64]*models.Client
	clientsByID   map[string]int64
	nextClientID  int64
	consents      map[int64]*models.Consent
	nextConsentID int64
	codes         map[string]models.AuthorizationCode
	tokens        map[string]models.Token
	keys          []models.SigningKey
	users         map[int64]*models.User
	sessions      map[string]models.SessionIdentity
	pending       map[string]pendingEntry

	now func() time.Time
}

type pendingEntry struct {
	p         models.PendingAuthorization
	expiresAt time.Time
}

// New creates an empty in-memory storage
func New() *Storage {
	return &Storage{
		clients:     make(map[int64]*models.Client),
		clientsByID: make(map[string]int64),
		consents:    make(map[int64]*models.Consent),
		codes:       make(map[string]models.AuthorizationCode),
		tokens:      make(map[string]models.Token),
		users:       make(map[int64]*models.User),
		sessions:    make(map[string]models.SessionIdentity),
		pending:     make(map[string]pendingEntry),
		now:         time.Now,
	}
}

// Ping always succeeds
func (s *Storage) Ping(context.Context) error {
	return nil
}

// ---- users and sessions ----

// AddUser inserts or replaces a platform account
func (s *Storage) AddUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := u
	s.users[u.ID] = &cp
}

// DeleteUser removes an account with every consent it granted, like the cascading foreign keys do
func (s *Storage) DeleteUser(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
	for cid, c := range s.consents {
		if c.UserID == id {
			s.deleteConsentLocked(cid)
		}
	}
}

func (s *Storage) UserByID(_ context.Context, id int64) (*models.User, error) {
	const op = "storage.memory.UserByID"

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	cp := *u
	return &cp, nil
}

// AddSession registers a platform login session
func (s *Storage) AddSession(identity models.SessionIdentity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[identity.SessionID] = identity
}

func (s *Storage) Session(_ context.Context, sessionID string) (*models.SessionIdentity, error) {
	const op = "storage.memory.Session"

	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrSessionNotFound)
	}
	return &identity, nil
}

// ---- clients ----

func cloneClient(c *models.Client) *models.Client {
	cp := *c
	cp.RedirectURIs = append([]string(nil), c.RedirectURIs...)
	cp.Scope = append(scope.Set(nil), c.Scope...)
	cp.DefaultScope = append(scope.Set(nil), c.DefaultScope...)
	cp.SecretHash = append([]byte(nil), c.SecretHash...)
	return &cp
}

func (s *Storage) nameTakenLocked(name string, except int64) bool {
	for id, c := range s.clients {
		if id != except && c.Name == name {
			return true
		}
	}
	return false
}

func (s *Storage) CreateClient(_ context.Context, client *models.Client, limit int) (int64, error) {
	const op = "storage.memory.CreateClient"

	s.mu.Lock()
	defer s.mu.Unlock()

	owned := 0
	for _, c := range s.clients {
		if c.OwnerID == client.OwnerID {
			owned++
		}
	}
	if owned >= limit {
		return 0, fmt.Errorf("%s: %w", op, storage.ErrClientLimitReached)
	}
	if s.nameTakenLocked(client.Name, 0) {
		return 0, fmt.Errorf("%s: %w", op, storage.ErrClientNameTaken)
	}
	if _, ok := s.clientsByID[client.ClientID]; ok {
		return 0, fmt.Errorf("%s: duplicate client_id", op)
	}

	s.nextClientID++
	client.ID = s.nextClientID
	client.CreatedAt = s.now()
	s.clients[client.ID] = cloneClient(client)
	s.clientsByID[client.ClientID] = client.ID
	return client.ID, nil
}

// SetAutoGrant flips the operator managed auto-grant flag
func (s *Storage) SetAutoGrant(clientID string, autoGrant bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.clientsByID[clientID]; ok {
		s.clients[id].AutoGrant = autoGrant
	}
}

func (s *Storage) UpdateClient(_ context.Context, client *models.Client) error {
	const op = "storage.memory.UpdateClient"

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.clientsByID[client.ClientID]
	if !ok || s.clients[id].OwnerID != client.OwnerID {
		return fmt.Errorf("%s: %w", op, storage.ErrClientNotFound)
	}
	if s.nameTakenLocked(client.Name, id) {
		return fmt.Errorf("%s: %w", op, storage.ErrClientNameTaken)
	}
	stored := s.clients[id]
	updated := cloneClient(client)
	updated.ID = id
	updated.AutoGrant = stored.AutoGrant
	updated.LastUsedAt = stored.LastUsedAt
	updated.CreatedAt = stored.CreatedAt
	s.clients[id] = updated
	return nil
}

func (s *Storage) DeleteClient(_ context.Context, ownerID int64, clientID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.clientsByID[clientID]
	if !ok || s.clients[id].OwnerID != ownerID {
		return false, nil
	}
	delete(s.clients, id)
	delete(s.clientsByID, clientID)
	for cid, c := range s.consents {
		if c.ClientID == id {
			s.deleteConsentLocked(cid)
		}
	}
	return true, nil
}

func (s *Storage) TouchClient(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[id]; ok {
		t := at
		c.LastUsedAt = &t
	}
	return nil
}

func (s *Storage) ClientByClientID(_ context.Context, clientID string) (*models.Client, error) {
	const op = "storage.memory.ClientByClientID"

	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.clientsByID[clientID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrClientNotFound)
	}
	return cloneClient(s.clients[id]), nil
}

func (s *Storage) ClientsByOwner(_ context.Context, ownerID int64) ([]models.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Client
	for _, c := range s.clients {
		if c.OwnerID == ownerID {
			out = append(out, *cloneClient(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- consents ----

func (s *Storage) deleteConsentLocked(id int64) {
	delete(s.consents, id)
	for h, c := range s.codes {
		if c.ConsentID == id {
			delete(s.codes, h)
		}
	}
	for h, t := range s.tokens {
		if t.ConsentID == id {
			delete(s.tokens, h)
		}
	}
}

func (s *Storage) consentForLocked(userID, clientID int64) *models.Consent {
	for _, c := range s.consents {
		if c.UserID == userID && c.ClientID == clientID {
			return c
		}
	}
	return nil
}

func (s *Storage) ConsentFor(_ context.Context, userID, clientID int64) (*models.Consent, error) {
	const op = "storage.memory.ConsentFor"

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.consentForLocked(userID, clientID)
	if c == nil {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrConsentNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *Storage) UpsertConsent(
	_ context.Context,
	userID, clientID int64,
	sc scope.Set,
	expiresAt *time.Time,
	now time.Time,
) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := s.consentForLocked(userID, clientID); existing != nil {
		if existing.Live(now) {
			existing.Scope = existing.Scope.Union(sc)
		} else {
			existing.Scope = append(scope.Set(nil), sc...)
		}
		existing.ConsentedAt = now
		existing.ExpiresAt = expiresAt
		return existing.ID, nil
	}

	s.nextConsentID++
	s.consents[s.nextConsentID] = &models.Consent{
		ID:          s.nextConsentID,
		UserID:      userID,
		ClientID:    clientID,
		Scope:       append(scope.Set(nil), sc...),
		ConsentedAt: now,
		ExpiresAt:   expiresAt,
	}
	return s.nextConsentID, nil
}

func (s *Storage) DeleteConsent(_ context.Context, id, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consents[id]
	if !ok || c.UserID != userID {
		return false, nil
	}
	s.deleteConsentLocked(id)
	return true, nil
}

func (s *Storage) ConsentSummaries(_ context.Context, userID int64, now time.Time) ([]models.ConsentSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var live []*models.Consent
	for _, c := range s.consents {
		if c.UserID == userID && c.Live(now) {
			live = append(live, c)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		if live[i].ConsentedAt.Equal(live[j].ConsentedAt) {
			return live[i].ID > live[j].ID
		}
		return live[i].ConsentedAt.After(live[j].ConsentedAt)
	})

	out := make([]models.ConsentSummary, 0, len(live))
	for _, c := range live {
		client, ok := s.clients[c.ClientID]
		if !ok {
			continue
		}
		summary := models.ConsentSummary{
			ID:          c.ID,
			ClientName:  client.Name,
			ClientImage: client.ImageURL,
			Scope:       append(scope.Set(nil), c.Scope...),
			ExpiresAt:   c.ExpiresAt,
		}
		if len(client.RedirectURIs) > 0 {
			summary.RedirectURI = client.RedirectURIs[0]
		}
		out = append(out, summary)
	}
	return out, nil
}

// ---- authorization codes ----

func (s *Storage) SaveAuthCode(_ context.Context, code *models.AuthorizationCode) error {
	const op = "storage.memory.SaveAuthCode"

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.consents[code.ConsentID]; !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrConsentNotFound)
	}
	s.codes[code.CodeHash] = *code
	return nil
}

func (s *Storage) RedeemAuthCode(_ context.Context, codeHash string) (*models.RedeemedCode, error) {
	const op = "storage.memory.RedeemAuthCode"

	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.codes[codeHash]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	delete(s.codes, codeHash)
	consent, ok := s.consents[code.ConsentID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return &models.RedeemedCode{
		ConsentID:           code.ConsentID,
		Scope:               code.Scope,
		ConsentedScope:      append(scope.Set(nil), consent.Scope...),
		CodeChallenge:       code.CodeChallenge,
		CodeChallengeMethod: code.CodeChallengeMethod,
		Nonce:               code.Nonce,
		SessionAge:          code.SessionAge,
		RedirectURI:         code.RedirectURI,
		UserID:              consent.UserID,
		ClientID:            consent.ClientID,
		ExpiresAt:           code.ExpiresAt,
		ConsentExpiresAt:    consent.ExpiresAt,
	}, nil
}

// ---- tokens ----

func (s *Storage) SaveToken(_ context.Context, token *models.Token) error {
	const op = "storage.memory.SaveToken"

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.consents[token.ConsentID]; !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrConsentNotFound)
	}
	s.tokens[token.TokenHash] = *token
	return nil
}

func (s *Storage) ResolveAccessToken(_ context.Context, tokenHash string) (*models.ResolvedAccessToken, error) {
	const op = "storage.memory.ResolveAccessToken"

	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[tokenHash]
	if !ok || token.Kind != models.KindAccess {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	consent, ok := s.consents[token.ConsentID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	client, ok := s.clients[consent.ClientID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return &models.ResolvedAccessToken{
		UserID:           consent.UserID,
		Scope:            token.Scope,
		ConsentedScope:   append(scope.Set(nil), consent.Scope...),
		ClientScope:      append(scope.Set(nil), client.Scope...),
		ClientID:         client.ClientID,
		ClientInternalID: client.ID,
		ExpiresAt:        token.ExpiresAt,
		ConsentExpiresAt: consent.ExpiresAt,
	}, nil
}

func (s *Storage) RedeemRefreshToken(_ context.Context, tokenHash string) (*models.RedeemedRefreshToken, error) {
	const op = "storage.memory.RedeemRefreshToken"

	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[tokenHash]
	if !ok || token.Kind != models.KindRefresh {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	delete(s.tokens, tokenHash)
	consent, ok := s.consents[token.ConsentID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return &models.RedeemedRefreshToken{
		ConsentID:        token.ConsentID,
		Scope:            token.Scope,
		ConsentedScope:   append(scope.Set(nil), consent.Scope...),
		UserID:           consent.UserID,
		ClientID:         consent.ClientID,
		ExpiresAt:        token.ExpiresAt,
		ConsentExpiresAt: consent.ExpiresAt,
	}, nil
}

// PurgeExpired removes expired codes, tokens and pending authorizations
func (s *Storage) PurgeExpired(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var purged int64
	for h, c := range s.codes {
		if !c.ExpiresAt.After(now) {
			delete(s.codes, h)
			purged++
		}
	}
	for h, t := range s.tokens {
		if !t.ExpiresAt.After(now) {
			delete(s.tokens, h)
			purged++
		}
	}
	for k, p := range s.pending {
		if !p.expiresAt.After(now) {
			delete(s.pending, k)
			purged++
		}
	}
	return purged, nil
}

// ---- signing keys ----

func (s *Storage) SigningKeys(context.Context) ([]models.SigningKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]models.SigningKey(nil), s.keys...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Storage) SaveSigningKey(_ context.Context, key *models.SigningKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, *key)
	return nil
}

func (s *Storage) DeleteSigningKeys(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.keys)
	s.keys = nil
	return n, nil
}

func (s *Storage) DeleteSigningKey(_ context.Context, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = slices.DeleteFunc(s.keys, func(k models.SigningKey) bool { return k.KeyID == keyID })
	return nil
}

// ---- pending authorizations ----

func (s *Storage) SavePending(_ context.Context, p *models.PendingAuthorization, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[p.Challenge] = pendingEntry{p: *p, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *Storage) Pending(_ context.Context, challenge string) (*models.PendingAuthorization, error) {
	const op = "storage.memory.Pending"

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.pending[challenge]
	if !ok || !entry.expiresAt.After(s.now()) {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrPendingNotFound)
	}
	p := entry.p
	return &p, nil
}

func (s *Storage) TakePending(_ context.Context, challenge string) (*models.PendingAuthorization, error) {
	const op = "storage.memory.TakePending"

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.pending[challenge]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrPendingNotFound)
	}
	delete(s.pending, challenge)
	if !entry.expiresAt.After(s.now()) {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrPendingNotFound)
	}
	p := entry.p
	return &p, nil
}

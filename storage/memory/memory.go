package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/SamandarAlimov/accounts-sub001/instrumentation"
	"github.com/SamandarAlimov/accounts-sub001/storage"
)

const backendName = "memory"

// Store is an in-memory implementation of storage.Store and storage.AdminStore.
type Store struct {
	mu sync.RWMutex

	clients  map[string]*storage.Client
	profiles map[string]*storage.Profile

	codes     map[string]*storage.AuthorizationCode // code value -> row
	codesByID map[string]*storage.AuthorizationCode

	accessTokens  map[string]*storage.AccessToken // token value -> row
	accessByID    map[string]*storage.AccessToken
	refreshTokens map[string]*storage.RefreshToken // token value -> row
	refreshByID   map[string]*storage.RefreshToken

	tracer  trace.Tracer
	metrics *instrumentation.Metrics
	logger  *slog.Logger
	now     func() time.Time

	cleanupInterval time.Duration
	retention       time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

var (
	_ storage.Store      = (*Store)(nil)
	_ storage.AdminStore = (*Store)(nil)
)

// New creates a store with a one minute cleanup interval.
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a store whose cleanup goroutine runs every cleanupInterval.
// Expired rows are removed once they are older than one hour past expiry.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		clients:         make(map[string]*storage.Client),
		profiles:        make(map[string]*storage.Profile),
		codes:           make(map[string]*storage.AuthorizationCode),
		codesByID:       make(map[string]*storage.AuthorizationCode),
		accessTokens:    make(map[string]*storage.AccessToken),
		accessByID:      make(map[string]*storage.AccessToken),
		refreshTokens:   make(map[string]*storage.RefreshToken),
		refreshByID:     make(map[string]*storage.RefreshToken),
		logger:          slog.Default(),
		now:             time.Now,
		cleanupInterval: cleanupInterval,
		retention:       time.Hour,
		stopCleanup:     make(chan struct{}),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation enables storage spans and metrics.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst != nil {
		s.tracer = inst.Tracer("storage")
		s.metrics = inst.Metrics()
	}
}

// Stop gracefully stops the cleanup goroutine
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// ============================================================
// Clients and profiles
// ============================================================

// FindClient returns a copy of the registered client.
func (s *Store) FindClient(ctx context.Context, clientID string) (_ *storage.Client, err error) {
	_, span, done := s.begin(ctx, "find_client")
	defer func() { done(err) }()
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientID, clientID))

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[clientID]
	if !ok {
		return nil, storage.ErrClientNotFound
	}
	cp := *c
	return &cp, nil
}

// SaveClient inserts or replaces a client registration.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	_, _, done := s.begin(ctx, "save_client")
	defer func() { done(err) }()

	if client == nil || client.ClientID == "" {
		return fmt.Errorf("client ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *client
	s.clients[client.ClientID] = &cp
	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// SetClientActive toggles the client's active flag.
func (s *Store) SetClientActive(ctx context.Context, clientID string, active bool) (err error) {
	_, _, done := s.begin(ctx, "set_client_active")
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[clientID]
	if !ok {
		return storage.ErrClientNotFound
	}
	c.IsActive = active
	return nil
}

// SaveProfile inserts or replaces a user profile.
func (s *Store) SaveProfile(ctx context.Context, profile *storage.Profile) (err error) {
	_, _, done := s.begin(ctx, "save_profile")
	defer func() { done(err) }()

	if profile == nil || profile.UserID == "" {
		return fmt.Errorf("profile user ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *profile
	s.profiles[profile.UserID] = &cp
	return nil
}

// FindProfile returns a copy of the user's profile.
func (s *Store) FindProfile(ctx context.Context, userID string) (_ *storage.Profile, err error) {
	_, _, done := s.begin(ctx, "find_profile")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, storage.ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

// ============================================================
// Authorization codes
// ============================================================

// InsertCode stores a new authorization code.
func (s *Store) InsertCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	_, _, done := s.begin(ctx, "insert_code")
	defer func() { done(err) }()

	if code == nil || code.Code == "" || code.ID == "" {
		return fmt.Errorf("authorization code and ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.codes[code.Code]; exists {
		return storage.ErrAlreadyExists
	}
	cp := *code
	s.codes[cp.Code] = &cp
	s.codesByID[cp.ID] = &cp
	return nil
}

// FindUnusedCode returns the code if it is unused and bound to clientID.
func (s *Store) FindUnusedCode(ctx context.Context, code, clientID string) (_ *storage.AuthorizationCode, err error) {
	_, _, done := s.begin(ctx, "find_unused_code")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.codes[code]
	if !ok || c.Used || c.ClientID != clientID {
		return nil, storage.ErrCodeNotFound
	}
	cp := *c
	return &cp, nil
}

// MarkCodeUsed flips used to true under the write lock. Exactly one caller per code gets true.
func (s *Store) MarkCodeUsed(ctx context.Context, id string) (_ bool, err error) {
	_, _, done := s.begin(ctx, "mark_code_used")
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.codesByID[id]
	if !ok {
		return false, storage.ErrCodeNotFound
	}
	if c.Used {
		return false, nil
	}
	c.Used = true
	return true, nil
}

// ============================================================
// Tokens
// ============================================================

// InsertAccessToken stores a new access token.
func (s *Store) InsertAccessToken(ctx context.Context, token *storage.AccessToken) (err error) {
	_, _, done := s.begin(ctx, "insert_access_token")
	defer func() { done(err) }()

	if token == nil || token.Token == "" || token.ID == "" {
		return fmt.Errorf("access token and ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accessTokens[token.Token]; exists {
		return storage.ErrAlreadyExists
	}
	cp := *token
	s.accessTokens[cp.Token] = &cp
	s.accessByID[cp.ID] = &cp
	return nil
}

// InsertRefreshToken stores a new refresh token.
func (s *Store) InsertRefreshToken(ctx context.Context, token *storage.RefreshToken) (err error) {
	_, _, done := s.begin(ctx, "insert_refresh_token")
	defer func() { done(err) }()

	if token == nil || token.Token == "" || token.ID == "" {
		return fmt.Errorf("refresh token and ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.refreshTokens[token.Token]; exists {
		return storage.ErrAlreadyExists
	}
	cp := *token
	s.refreshTokens[cp.Token] = &cp
	s.refreshByID[cp.ID] = &cp
	return nil
}

// FindAccessToken returns a copy of the access token row.
func (s *Store) FindAccessToken(ctx context.Context, token string) (_ *storage.AccessToken, err error) {
	_, _, done := s.begin(ctx, "find_access_token")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.accessTokens[token]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	cp := *t
	return &cp, nil
}

// FindRefreshToken returns a copy of the refresh token row, optionally scoped to a client.
func (s *Store) FindRefreshToken(ctx context.Context, token, clientID string) (_ *storage.RefreshToken, err error) {
	_, _, done := s.begin(ctx, "find_refresh_token")
	defer func() { done(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.refreshTokens[token]
	if !ok || (clientID != "" && t.ClientID != clientID) {
		return nil, storage.ErrTokenNotFound
	}
	cp := *t
	return &cp, nil
}

// RevokeAccessToken marks the access token revoked. Reports false if it already was.
func (s *Store) RevokeAccessToken(ctx context.Context, id string) (_ bool, err error) {
	_, _, done := s.begin(ctx, "revoke_access_token")
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.accessByID[id]
	if !ok {
		return false, storage.ErrTokenNotFound
	}
	if t.Revoked {
		return false, nil
	}
	t.Revoked = true
	return true, nil
}

// RevokeRefreshToken marks the refresh token revoked. Reports false if it already was.
func (s *Store) RevokeRefreshToken(ctx context.Context, id string) (_ bool, err error) {
	_, _, done := s.begin(ctx, "revoke_refresh_token")
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.refreshByID[id]
	if !ok {
		return false, storage.ErrTokenNotFound
	}
	if t.Revoked {
		return false, nil
	}
	t.Revoked = true
	return true, nil
}

// RevokeAccessTokensByRefreshToken revokes every live access token in the refresh token's lineage.
func (s *Store) RevokeAccessTokensByRefreshToken(ctx context.Context, refreshTokenID string) (_ int, err error) {
	_, _, done := s.begin(ctx, "revoke_access_tokens_by_refresh")
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, t := range s.accessByID {
		if t.RefreshTokenID == refreshTokenID && !t.Revoked {
			t.Revoked = true
			n++
		}
	}
	return n, nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup drops rows that expired more than retention ago.
func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.retention)
	cleaned := 0

	for k, c := range s.codes {
		if c.ExpiresAt.Before(cutoff) {
			delete(s.codes, k)
			delete(s.codesByID, c.ID)
			cleaned++
		}
	}
	for k, t := range s.accessTokens {
		if t.ExpiresAt.Before(cutoff) {
			delete(s.accessTokens, k)
			delete(s.accessByID, t.ID)
			cleaned++
		}
	}
	for k, t := range s.refreshTokens {
		if t.ExpiresAt.Before(cutoff) {
			delete(s.refreshTokens, k)
			delete(s.refreshByID, t.ID)
			cleaned++
		}
	}

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries", "count", cleaned)
	}
}

// ============================================================
// Instrumentation
// ============================================================

// begin starts a storage span and returns a completion func that records the
// operation's outcome on both the span and the storage metrics.
func (s *Store) begin(ctx context.Context, operation string) (context.Context, trace.Span, func(error)) {
	s.mu.RLock()
	tracer, metrics := s.tracer, s.metrics
	s.mu.RUnlock()

	return instrumentation.StartStorageOperation(ctx, tracer, metrics, backendName, operation)
}

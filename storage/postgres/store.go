package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/trace"

	"github.com/SamandarAlimov/accounts-sub001/instrumentation"
	"github.com/SamandarAlimov/accounts-sub001/storage"
)

const (
	backendName = "postgres"

	// uniqueViolation is the SQLSTATE for unique_violation
	uniqueViolation = "23505"

	connectionVerifyTimeout = 5 * time.Second
)

// Config holds configuration for the PostgreSQL storage backend.
type Config struct {
	// DSN is the lib/pq connection string (required)
	DSN string

	// MaxOpenConns defaults to 25
	MaxOpenConns int

	// MaxIdleConns defaults to 5
	MaxIdleConns int

	// ConnMaxLifetime defaults to 5 minutes
	ConnMaxLifetime time.Duration

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a PostgreSQL implementation of storage.Store and storage.AdminStore.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	mu      sync.RWMutex
	tracer  trace.Tracer
	metrics *instrumentation.Metrics
}

var (
	_ storage.Store      = (*Store)(nil)
	_ storage.AdminStore = (*Store)(nil)
)

// New opens a connection pool, verifies it and creates the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	maxOpen, maxIdle, lifetime := cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime
	if maxOpen <= 0 {
		maxOpen = 25
	}
	if maxIdle <= 0 {
		maxIdle = 5
	}
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	pingCtx, cancel := context.WithTimeout(ctx, connectionVerifyTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("Connected to PostgreSQL storage")
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
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

// DeleteExpired removes codes and tokens that expired before cutoff and
// returns the number of rows deleted.
func (s *Store) DeleteExpired(ctx context.Context, cutoff time.Time) (_ int64, err error) {
	ctx, done := s.begin(ctx, "delete_expired")
	defer func() { done(err) }()

	var total int64
	for _, table := range []string{"authorization_codes", "access_tokens", "refresh_tokens"} {
		res, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE expires_at < $1", cutoff)
		if err != nil {
			return total, fmt.Errorf("failed to delete expired %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if total > 0 {
		s.logger.Debug("Deleted expired rows", "count", total)
	}
	return total, nil
}

// ============================================================
// Clients and profiles
// ============================================================

// SaveClient inserts or replaces a client registration.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	ctx, done := s.begin(ctx, "save_client")
	defer func() { done(err) }()

	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client")
	}
	createdAt := client.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO oauth_clients (client_id, client_secret_hash, redirect_uris, allowed_scopes, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (client_id) DO UPDATE SET
			client_secret_hash = EXCLUDED.client_secret_hash,
			redirect_uris = EXCLUDED.redirect_uris,
			allowed_scopes = EXCLUDED.allowed_scopes,
			is_active = EXCLUDED.is_active`,
		client.ClientID, client.ClientSecretHash,
		pq.Array(client.RedirectURIs), pq.Array(client.AllowedScopes),
		client.IsActive, createdAt)
	if err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}
	return nil
}

// FindClient retrieves a client by ID.
func (s *Store) FindClient(ctx context.Context, clientID string) (_ *storage.Client, err error) {
	ctx, done := s.begin(ctx, "find_client")
	defer func() { done(err) }()

	var c storage.Client
	err = s.db.QueryRowContext(ctx, `
		SELECT client_id, client_secret_hash, redirect_uris, allowed_scopes, is_active, created_at
		FROM oauth_clients WHERE client_id = $1`, clientID).
		Scan(&c.ClientID, &c.ClientSecretHash, pq.Array(&c.RedirectURIs), pq.Array(&c.AllowedScopes), &c.IsActive, &c.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, storage.ErrClientNotFound, "client")
	}
	return &c, nil
}

// SetClientActive toggles a client's active flag.
func (s *Store) SetClientActive(ctx context.Context, clientID string, active bool) (err error) {
	ctx, done := s.begin(ctx, "set_client_active")
	defer func() { done(err) }()

	res, err := s.db.ExecContext(ctx, `UPDATE oauth_clients SET is_active = $2 WHERE client_id = $1`, clientID, active)
	if err != nil {
		return fmt.Errorf("failed to update client: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrClientNotFound
	}
	return nil
}

// SaveProfile inserts or replaces a user profile.
func (s *Store) SaveProfile(ctx context.Context, p *storage.Profile) (err error) {
	ctx, done := s.begin(ctx, "save_profile")
	defer func() { done(err) }()

	if p == nil || p.UserID == "" {
		return fmt.Errorf("invalid profile")
	}

	var address []byte
	if p.Address != nil {
		if address, err = json.Marshal(p.Address); err != nil {
			return fmt.Errorf("failed to marshal address: %w", err)
		}
	}
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, name, given_name, family_name, picture, email, email_verified,
			phone_number, phone_number_verified, address, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id) DO UPDATE SET
			name = EXCLUDED.name,
			given_name = EXCLUDED.given_name,
			family_name = EXCLUDED.family_name,
			picture = EXCLUDED.picture,
			email = EXCLUDED.email,
			email_verified = EXCLUDED.email_verified,
			phone_number = EXCLUDED.phone_number,
			phone_number_verified = EXCLUDED.phone_number_verified,
			address = EXCLUDED.address,
			updated_at = EXCLUDED.updated_at`,
		p.UserID, p.Name, p.GivenName, p.FamilyName, p.Picture, p.Email, p.EmailVerified,
		p.PhoneNumber, p.PhoneNumberVerified, address, updatedAt)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// FindProfile retrieves a user profile.
func (s *Store) FindProfile(ctx context.Context, userID string) (_ *storage.Profile, err error) {
	ctx, done := s.begin(ctx, "find_profile")
	defer func() { done(err) }()

	var p storage.Profile
	var address []byte
	err = s.db.QueryRowContext(ctx, `
		SELECT user_id, name, given_name, family_name, picture, email, email_verified,
			phone_number, phone_number_verified, address, updated_at
		FROM user_profiles WHERE user_id = $1`, userID).
		Scan(&p.UserID, &p.Name, &p.GivenName, &p.FamilyName, &p.Picture, &p.Email, &p.EmailVerified,
			&p.PhoneNumber, &p.PhoneNumberVerified, &address, &p.UpdatedAt)
	if err != nil {
		return nil, notFoundOr(err, storage.ErrProfileNotFound, "profile")
	}
	if len(address) > 0 {
		p.Address = &storage.Address{}
		if err := json.Unmarshal(address, p.Address); err != nil {
			return nil, fmt.Errorf("failed to unmarshal address: %w", err)
		}
	}
	return &p, nil
}

// ============================================================
// Helpers
// ============================================================

func (s *Store) begin(ctx context.Context, operation string) (context.Context, func(error)) {
	s.mu.RLock()
	tracer, metrics := s.tracer, s.metrics
	s.mu.RUnlock()

	ctx, _, done := instrumentation.StartStorageOperation(ctx, tracer, metrics, backendName, operation)
	return ctx, done
}

// notFoundOr maps sql.ErrNoRows to notFound and wraps anything else.
func notFoundOr(err, notFound error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

// insertErr maps a unique violation to storage.ErrAlreadyExists.
func insertErr(err error, what string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return storage.ErrAlreadyExists
	}
	return fmt.Errorf("failed to insert %s: %w", what, err)
}

// transitioned reports whether a conditional UPDATE changed a row. When it did
// not, exists distinguishes "already transitioned" from "no such row".
func (s *Store) transitioned(ctx context.Context, res sql.Result, existsQuery, id string, notFound error) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, existsQuery, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check row: %w", err)
	}
	if !exists {
		return false, notFound
	}
	return false, nil
}

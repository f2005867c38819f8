package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"
	"go.opentelemetry.io/otel/trace"

	"github.com/SamandarAlimov/accounts-sub001/instrumentation"
	"github.com/SamandarAlimov/accounts-sub001/internal/util"
	"github.com/SamandarAlimov/accounts-sub001/security"
	"github.com/SamandarAlimov/accounts-sub001/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "accounts:"

	// DefaultRetention is how long codes and tokens are kept after they expire
	DefaultRetention = time.Hour

	backendName = "valkey"

	// tokenIDLogLength is the number of characters to include when logging token IDs
	tokenIDLogLength = 8

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// MaxTokenLength bounds token strings accepted as lookup keys
	MaxTokenLength = 512
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "accounts:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger

	// Retention is how long expired codes and tokens stay readable (default 1h)
	Retention time.Duration
}

// Store is a Valkey-backed implementation of storage.Store and storage.AdminStore.
type Store struct {
	client    valkeygo.Client
	prefix    string
	logger    *slog.Logger
	retention time.Duration

	mu        sync.RWMutex
	encryptor *security.Encryptor
	tracer    trace.Tracer
	metrics   *instrumentation.Metrics
}

var (
	_ storage.Store      = (*Store)(nil)
	_ storage.AdminStore = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
		Password:    cfg.Password,
		TLSConfig:   cfg.TLS,
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client:    client,
		prefix:    prefix,
		logger:    logger,
		retention: retention,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetEncryptor enables encryption at rest for stored profiles.
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encryptor = enc
	if enc.IsEnabled() {
		s.logger.Info("Profile encryption at rest enabled for Valkey storage")
	}
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

func (s *Store) getEncryptor() *security.Encryptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.encryptor
}

// ============================================================
// Key Helpers
// ============================================================

func (s *Store) clientKey(clientID string) string   { return s.prefix + "client:" + clientID }
func (s *Store) profileKey(userID string) string    { return s.prefix + "profile:" + userID }
func (s *Store) codeKey(code string) string         { return s.prefix + "code:" + code }
func (s *Store) codeIDKey(id string) string         { return s.prefix + "code:id:" + id }
func (s *Store) accessKey(token string) string      { return s.prefix + "access:" + token }
func (s *Store) accessIDKey(id string) string       { return s.prefix + "access:id:" + id }
func (s *Store) refreshKey(token string) string     { return s.prefix + "refresh:" + token }
func (s *Store) refreshIDKey(id string) string      { return s.prefix + "refresh:id:" + id }
func (s *Store) lineageKey(refreshID string) string { return s.prefix + "lineage:" + refreshID }

// ============================================================
// Lua Scripts for Atomic Operations
// ============================================================

// luaInsertRow writes a row and its ID index only if the row key is free.
//
// KEYS[1] = row key, KEYS[2] = ID index key
// ARGV[1] = row JSON, ARGV[2] = index value, ARGV[3] = TTL in seconds
//
// Returns 1 on insert, 0 if the row key already exists.
const luaInsertRow = `
if redis.call('EXISTS', KEYS[1]) == 1 then
    return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[3])
redis.call('SET', KEYS[2], ARGV[2], 'EX', ARGV[3])
return 1
`

// luaSetFlag flips a boolean field of a JSON row from false to true.
//
// KEYS[1] = row key
// ARGV[1] = field name ("used" or "revoked")
//
// Returns 1 if this call performed the transition, 0 if the flag was already
// set and -1 if the row does not exist.
const luaSetFlag = `
local data = redis.call('GET', KEYS[1])
if not data then
    return -1
end
local row = cjson.decode(data)
if row[ARGV[1]] then
    return 0
end
row[ARGV[1]] = true
redis.call('SET', KEYS[1], cjson.encode(row), 'KEEPTTL')
return 1
`

// insertRow runs luaInsertRow and maps a taken key to storage.ErrAlreadyExists.
func (s *Store) insertRow(ctx context.Context, rowKey, idKey string, data []byte, index string, expiresAt time.Time) error {
	ttl := s.ttlFor(expiresAt)
	inserted, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaInsertRow).
			Numkeys(2).
			Key(rowKey, idKey).
			Arg(string(data), index, fmt.Sprintf("%d", int64(ttl.Seconds()))).
			Build(),
	).AsInt64()
	if err != nil {
		return fmt.Errorf("failed to insert row: %w", err)
	}
	if inserted == 0 {
		return storage.ErrAlreadyExists
	}
	return nil
}

// setFlag resolves the row key through its ID index and runs luaSetFlag.
func (s *Store) setFlag(ctx context.Context, idKey string, rowKey func(string) string, field string, notFound error) (bool, error) {
	ref, err := s.client.Do(ctx, s.client.B().Get().Key(idKey).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return false, notFound
		}
		return false, fmt.Errorf("failed to resolve row: %w", err)
	}
	return s.setFlagByKey(ctx, rowKey(ref), field, notFound)
}

func (s *Store) setFlagByKey(ctx context.Context, key, field string, notFound error) (bool, error) {
	res, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaSetFlag).
			Numkeys(1).
			Key(key).
			Arg(field).
			Build(),
	).AsInt64()
	if err != nil {
		return false, fmt.Errorf("failed to set %s: %w", field, err)
	}
	switch res {
	case -1:
		return false, notFound
	case 0:
		return false, nil
	default:
		return true, nil
	}
}

// ttlFor returns the key TTL for a row expiring at expiresAt. Never below one second.
func (s *Store) ttlFor(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt) + s.retention
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}

// ============================================================
// Instrumentation
// ============================================================

func (s *Store) begin(ctx context.Context, operation string) (context.Context, func(error)) {
	s.mu.RLock()
	tracer, metrics := s.tracer, s.metrics
	s.mu.RUnlock()

	ctx, _, done := instrumentation.StartStorageOperation(ctx, tracer, metrics, backendName, operation)
	return ctx, done
}

func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

func truncateForLog(s string) string {
	return util.SafeTruncate(s, tokenIDLogLength)
}

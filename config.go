package oauth

import (
	"log/slog"

	"github.com/SamandarAlimov/accounts-sub001/instrumentation"
	"github.com/SamandarAlimov/accounts-sub001/notify"
	"github.com/SamandarAlimov/accounts-sub001/server"
)

// Config holds everything NewServer needs to assemble a Handler.
type Config struct {
	// Server configures the core flows (issuer, TTLs, PKCE policy, rotation)
	Server server.Config

	// Rate limiting configuration for the token endpoint
	RateLimit RateLimitConfig

	// Security settings
	Security SecurityConfig

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger

	// Instrumentation enables tracing and metrics (optional)
	Instrumentation *instrumentation.Instrumentation

	// Queue and Notifier enable asynchronous event delivery (optional).
	// Both must be set for events to be emitted.
	Queue    *notify.Queue
	Notifier notify.Notifier
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Rate is token requests per second allowed per client. Zero disables limiting.
	Rate int

	// Burst is the maximum burst size allowed per client.
	Burst int

	// MaxEntries caps the number of tracked clients (LRU eviction). Zero uses the default.
	MaxEntries int
}

// SecurityConfig holds OAuth security settings
type SecurityConfig struct {
	// TrustProxy uses the first X-Forwarded-For address as the client IP.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// EnableAuditLogging enables security audit logging (identifiers hashed).
	EnableAuditLogging bool
}

package server

import (
	"log/slog"
	"strings"
	"time"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultAuthorizationCodeTTL = 10 * time.Minute
	DefaultAccessTokenTTL       = time.Hour
	DefaultRefreshTokenTTL      = 30 * 24 * time.Hour
	DefaultStoreTimeout         = 5 * time.Second

	// IDTokenTTL is the fixed lifetime of identity tokens
	IDTokenTTL = time.Hour
)

// Config holds OAuth server configuration
type Config struct {
	// Issuer is the server's issuer identifier (base URL). Used as the id_token
	// "iss" claim and as the base for discovery endpoint URLs.
	Issuer string

	// AuthorizationCodeTTL is how long authorization codes are valid (default 10m)
	AuthorizationCodeTTL time.Duration

	// AccessTokenTTL is how long access tokens are valid (default 1h)
	AccessTokenTTL time.Duration

	// RefreshTokenTTL is how long refresh tokens are valid (default 30 days)
	RefreshTokenTTL time.Duration

	// StoreTimeout bounds every storage call (default 5s)
	StoreTimeout time.Duration

	// ClockSkewGracePeriod is added to expires_at before expiry checks.
	// Default 0: a code or token is expired as soon as now > expires_at.
	ClockSkewGracePeriod time.Duration

	// RequirePKCE makes code_challenge mandatory at the authorization endpoint
	RequirePKCE bool

	// AllowPKCEPlain allows the 'plain' code_challenge_method (NOT RECOMMENDED)
	AllowPKCEPlain bool

	// RefreshTokenRotation issues a new refresh token on every refresh grant
	// and revokes the presented one. Default false: the presented refresh
	// token is returned unchanged.
	RefreshTokenRotation bool

	// SupportedScopes lists the scopes this server recognises.
	// If empty, any scope the client is allowed is accepted.
	SupportedScopes []string

	// IDTokenSigningKey is the HS256 key for the default id_token signer.
	// If empty and no signer is set, a random per-process key is generated.
	IDTokenSigningKey []byte
}

// applyDefaults fills zero-valued durations
func applyDefaults(config *Config) {
	if config.AuthorizationCodeTTL <= 0 {
		config.AuthorizationCodeTTL = DefaultAuthorizationCodeTTL
	}
	if config.AccessTokenTTL <= 0 {
		config.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if config.RefreshTokenTTL <= 0 {
		config.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = DefaultStoreTimeout
	}
	if config.ClockSkewGracePeriod < 0 {
		config.ClockSkewGracePeriod = 0
	}
	config.Issuer = strings.TrimSuffix(config.Issuer, "/")
}

// logSecurityWarnings logs warnings for insecure configuration settings
func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if config.Issuer == "" {
		logger.Warn("CONFIGURATION WARNING: Issuer is empty",
			"risk", "id_token iss claim and discovery URLs will be relative",
			"recommendation", "Set Issuer to the server's public base URL")
	} else if strings.HasPrefix(config.Issuer, "http://") &&
		!strings.HasPrefix(config.Issuer, "http://localhost") &&
		!strings.HasPrefix(config.Issuer, "http://127.0.0.1") {
		logger.Warn("SECURITY WARNING: Issuer uses plain HTTP",
			"issuer", config.Issuer,
			"risk", "Tokens and codes can be intercepted in transit",
			"recommendation", "Serve the authorization server over HTTPS")
	}
	if !config.RequirePKCE {
		logger.Warn("SECURITY NOTICE: PKCE is optional",
			"risk", "Authorization code interception for public clients that skip PKCE",
			"recommendation", "Set RequirePKCE=true once all clients send code_challenge")
	}
	if config.AllowPKCEPlain {
		logger.Warn("SECURITY WARNING: Plain PKCE method is ALLOWED",
			"risk", "Weak code challenge protection",
			"recommendation", "Set AllowPKCEPlain=false to require S256",
			"learn_more", "https://datatracker.ietf.org/doc/html/rfc7636#section-4.2")
	}
	if !config.RefreshTokenRotation {
		logger.Info("Refresh token rotation disabled; refresh tokens are reused until expiry or revocation")
	}
	if config.ClockSkewGracePeriod > time.Minute {
		logger.Warn("SECURITY WARNING: Large clock skew grace period",
			"grace", config.ClockSkewGracePeriod,
			"risk", "Expired codes and tokens stay usable for the grace period")
	}
}

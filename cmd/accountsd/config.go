package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/SamandarAlimov/accounts-sub001/server"
)

const envPrefix = "ACCOUNTS"

type config struct {
	Listen    string          `mapstructure:"listen"`
	Server    serverConfig    `mapstructure:"server"`
	Store     storeConfig     `mapstructure:"store"`
	Log       logConfig       `mapstructure:"log"`
	Telemetry telemetryConfig `mapstructure:"telemetry"`
	Notify    notifyConfig    `mapstructure:"notify"`
	RateLimit rateLimitConfig `mapstructure:"rate_limit"`
	Security  securityConfig  `mapstructure:"security"`

	// Clients and Profiles are upserted into the store at startup
	Clients  []clientConfig  `mapstructure:"clients"`
	Profiles []profileConfig `mapstructure:"profiles"`
}

type serverConfig struct {
	Issuer               string        `mapstructure:"issuer"`
	AuthorizationCodeTTL time.Duration `mapstructure:"authorization_code_ttl"`
	AccessTokenTTL       time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL      time.Duration `mapstructure:"refresh_token_ttl"`
	StoreTimeout         time.Duration `mapstructure:"store_timeout"`
	ClockSkewGracePeriod time.Duration `mapstructure:"clock_skew_grace_period"`
	RequirePKCE          bool          `mapstructure:"require_pkce"`
	AllowPKCEPlain       bool          `mapstructure:"allow_pkce_plain"`
	RefreshTokenRotation bool          `mapstructure:"refresh_token_rotation"`
	SupportedScopes      []string      `mapstructure:"supported_scopes"`
	IDTokenSigningKey    string        `mapstructure:"id_token_signing_key"`
}

type storeConfig struct {
	// Backend is memory, valkey or postgres
	Backend  string         `mapstructure:"backend"`
	Valkey   valkeyConfig   `mapstructure:"valkey"`
	Postgres postgresConfig `mapstructure:"postgres"`

	// CleanupInterval applies to postgres, which has no native expiry
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type valkeyConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`

	// EncryptionKey is a base64 AES-256 key for tokens at rest
	EncryptionKey string `mapstructure:"encryption_key"`
}

type postgresConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type logConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type telemetryConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	MetricsExporter string `mapstructure:"metrics_exporter"`
}

type notifyConfig struct {
	Workers          int    `mapstructure:"workers"`
	Capacity         int    `mapstructure:"capacity"`
	LogEvents        bool   `mapstructure:"log_events"`
	AMQPURL          string `mapstructure:"amqp_url"`
	Exchange         string `mapstructure:"exchange"`
	RoutingKeyPrefix string `mapstructure:"routing_key_prefix"`
}

type rateLimitConfig struct {
	Rate  int `mapstructure:"rate"`
	Burst int `mapstructure:"burst"`
}

type securityConfig struct {
	TrustProxy bool `mapstructure:"trust_proxy"`
	Audit      bool `mapstructure:"audit"`
}

type clientConfig struct {
	ID           string   `mapstructure:"id"`
	Secret       string   `mapstructure:"secret"`
	RedirectURIs []string `mapstructure:"redirect_uris"`
	Scopes       []string `mapstructure:"scopes"`
	Disabled     bool     `mapstructure:"disabled"`
}

type profileConfig struct {
	UserID        string `mapstructure:"user_id"`
	Name          string `mapstructure:"name"`
	GivenName     string `mapstructure:"given_name"`
	FamilyName    string `mapstructure:"family_name"`
	Picture       string `mapstructure:"picture"`
	Email         string `mapstructure:"email"`
	EmailVerified bool   `mapstructure:"email_verified"`
	Phone         string `mapstructure:"phone_number"`
	PhoneVerified bool   `mapstructure:"phone_number_verified"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", "127.0.0.1:8080")
	v.SetDefault("server.issuer", "http://127.0.0.1:8080")
	v.SetDefault("server.authorization_code_ttl", server.DefaultAuthorizationCodeTTL)
	v.SetDefault("server.access_token_ttl", server.DefaultAccessTokenTTL)
	v.SetDefault("server.refresh_token_ttl", server.DefaultRefreshTokenTTL)
	v.SetDefault("server.store_timeout", server.DefaultStoreTimeout)
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.cleanup_interval", 10*time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("telemetry.metrics_exporter", "prometheus")
	v.SetDefault("notify.log_events", true)
	v.SetDefault("security.audit", true)

	// Unmarshal only sees keys viper knows about; registering zero values lets
	// AutomaticEnv fill them from ACCOUNTS_* variables.
	v.SetDefault("server.clock_skew_grace_period", time.Duration(0))
	v.SetDefault("server.require_pkce", false)
	v.SetDefault("server.allow_pkce_plain", false)
	v.SetDefault("server.refresh_token_rotation", false)
	v.SetDefault("server.id_token_signing_key", "")
	v.SetDefault("store.valkey.address", "")
	v.SetDefault("store.valkey.password", "")
	v.SetDefault("store.valkey.db", 0)
	v.SetDefault("store.valkey.key_prefix", "")
	v.SetDefault("store.valkey.encryption_key", "")
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.max_open_conns", 0)
	v.SetDefault("store.postgres.max_idle_conns", 0)
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("notify.workers", 0)
	v.SetDefault("notify.capacity", 0)
	v.SetDefault("notify.amqp_url", "")
	v.SetDefault("notify.exchange", "")
	v.SetDefault("notify.routing_key_prefix", "")
	v.SetDefault("rate_limit.rate", 0)
	v.SetDefault("rate_limit.burst", 0)
	v.SetDefault("security.trust_proxy", false)
}

// loadConfig resolves the configuration from .env, environment, the config
// file and flags already bound to v.
func loadConfig(v *viper.Viper) (*config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *config) validate() error {
	switch c.Store.Backend {
	case "memory":
	case "valkey":
		if c.Store.Valkey.Address == "" {
			return fmt.Errorf("store.valkey.address is required for the valkey backend")
		}
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q (want memory, valkey or postgres)", c.Store.Backend)
	}

	for i, cl := range c.Clients {
		if cl.ID == "" {
			return fmt.Errorf("clients[%d]: id is required", i)
		}
		if len(cl.RedirectURIs) == 0 {
			return fmt.Errorf("client %s: at least one redirect URI is required", cl.ID)
		}
	}
	for i, p := range c.Profiles {
		if p.UserID == "" {
			return fmt.Errorf("profiles[%d]: user_id is required", i)
		}
	}
	return nil
}

func (c *config) serverConfig() server.Config {
	return server.Config{
		Issuer:               c.Server.Issuer,
		AuthorizationCodeTTL: c.Server.AuthorizationCodeTTL,
		AccessTokenTTL:       c.Server.AccessTokenTTL,
		RefreshTokenTTL:      c.Server.RefreshTokenTTL,
		StoreTimeout:         c.Server.StoreTimeout,
		ClockSkewGracePeriod: c.Server.ClockSkewGracePeriod,
		RequirePKCE:          c.Server.RequirePKCE,
		AllowPKCEPlain:       c.Server.AllowPKCEPlain,
		RefreshTokenRotation: c.Server.RefreshTokenRotation,
		SupportedScopes:      c.Server.SupportedScopes,
		IDTokenSigningKey:    []byte(c.Server.IDTokenSigningKey),
	}
}

// bindFlag panics on error: the only failure is a nil flag, a programming error.
func bindFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

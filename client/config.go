package client

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	// DefaultRefreshBuffer is how long before expiry a token is refreshed
	DefaultRefreshBuffer = 5 * time.Minute

	// DefaultHTTPTimeout applies to the default HTTP client
	DefaultHTTPTimeout = 30 * time.Second

	// autoRefreshTimeout bounds a scheduled refresh
	autoRefreshTimeout = 30 * time.Second

	// minRefreshInterval is the shortest delay between two refreshes of a
	// token whose lifetime is below the refresh buffer
	minRefreshInterval = 5 * time.Second
)

// Config configures a Manager.
type Config struct {
	ClientID string

	// ClientSecret is empty for public clients. When set, it is sent with
	// HTTP Basic authentication.
	ClientSecret string

	AuthURL     string
	TokenURL    string
	RedirectURL string

	// RevocationURL and UserInfoURL are optional. Without them Logout only
	// clears local state and UserInfo is unavailable.
	RevocationURL string
	UserInfoURL   string

	// Scopes requested by Login unless LoginOptions.Scope overrides them
	Scopes []string

	// HTTPClient for all calls to the authorization server (optional)
	HTTPClient *http.Client

	// Storage for the session and login attempt values. Defaults to memory.
	Storage Storage

	Logger *slog.Logger

	// RefreshBuffer is how long before expiry the token is refreshed.
	// Defaults to DefaultRefreshBuffer.
	RefreshBuffer time.Duration

	// OnRefreshSuccess and OnRefreshError observe scheduled refreshes
	OnRefreshSuccess func(Session)
	OnRefreshError   func(error)

	// OnStateChange is called after every state transition
	OnStateChange func(State)

	// Redirect sends the user agent to the authorization URL built by Login.
	// Leave nil when the caller performs the redirect itself.
	Redirect func(authURL string) error

	// AllowMissingState accepts a callback when no state was stored for the
	// attempt. Only the lenient behaviour of older deployments needs this.
	AllowMissingState bool
}

// Endpoints holds the server URLs a Manager needs.
type Endpoints struct {
	AuthURL       string
	TokenURL      string
	RevocationURL string
	UserInfoURL   string
}

// Apply copies the endpoints into cfg.
func (e Endpoints) Apply(cfg *Config) {
	cfg.AuthURL = e.AuthURL
	cfg.TokenURL = e.TokenURL
	cfg.RevocationURL = e.RevocationURL
	cfg.UserInfoURL = e.UserInfoURL
}

func (c *Config) validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("client ID is required")
	}
	if c.AuthURL == "" || c.TokenURL == "" {
		return fmt.Errorf("auth URL and token URL are required")
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("redirect URL is required")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.RefreshBuffer <= 0 {
		c.RefreshBuffer = DefaultRefreshBuffer
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

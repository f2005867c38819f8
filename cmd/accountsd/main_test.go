package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	oauth "github.com/SamandarAlimov/accounts-sub001"
	"github.com/SamandarAlimov/accounts-sub001/instrumentation"
	"github.com/SamandarAlimov/accounts-sub001/storage/memory"
)

func init() {
	hashCost = bcrypt.MinCost
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, time.Hour, cfg.Server.AccessTokenTTL)
	assert.Equal(t, 10*time.Minute, cfg.Server.AuthorizationCodeTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.Server.RefreshTokenTTL)
	assert.Zero(t, cfg.Server.ClockSkewGracePeriod)
	assert.False(t, cfg.Server.RefreshTokenRotation)
	assert.True(t, cfg.Security.Audit)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfig_Environment(t *testing.T) {
	t.Setenv("ACCOUNTS_SERVER_ISSUER", "https://id.example.com")
	t.Setenv("ACCOUNTS_SERVER_ACCESS_TOKEN_TTL", "30m")
	t.Setenv("ACCOUNTS_SERVER_REFRESH_TOKEN_ROTATION", "true")
	t.Setenv("ACCOUNTS_STORE_BACKEND", "valkey")
	t.Setenv("ACCOUNTS_STORE_VALKEY_ADDRESS", "localhost:6379")
	t.Setenv("ACCOUNTS_RATE_LIMIT_RATE", "5")

	cfg, err := loadConfig(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "https://id.example.com", cfg.Server.Issuer)
	assert.Equal(t, 30*time.Minute, cfg.Server.AccessTokenTTL)
	assert.True(t, cfg.Server.RefreshTokenRotation)
	assert.Equal(t, "valkey", cfg.Store.Backend)
	assert.Equal(t, "localhost:6379", cfg.Store.Valkey.Address)
	assert.Equal(t, 5, cfg.RateLimit.Rate)

	sc := cfg.serverConfig()
	assert.Equal(t, "https://id.example.com", sc.Issuer)
	assert.Equal(t, 30*time.Minute, sc.AccessTokenTTL)
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	content := `
listen: ":9000"
server:
  issuer: https://accounts.example.com
  require_pkce: true
clients:
  - id: web
    secret: s3cret
    redirect_uris: [https://app.example.com/callback]
    scopes: [openid, profile]
profiles:
  - user_id: user-1
    name: Ada Lovelace
    email: ada@example.com
    email_verified: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	v := viper.New()
	v.Set("config", path)
	cfg, err := loadConfig(v)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Listen)
	assert.True(t, cfg.Server.RequirePKCE)
	require.Len(t, cfg.Clients, 1)
	assert.Equal(t, "web", cfg.Clients[0].ID)
	assert.Equal(t, []string{"https://app.example.com/callback"}, cfg.Clients[0].RedirectURIs)
	require.Len(t, cfg.Profiles, 1)
	assert.Equal(t, "ada@example.com", cfg.Profiles[0].Email)
	assert.True(t, cfg.Profiles[0].EmailVerified)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	v := viper.New()
	v.Set("config", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := loadConfig(v)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  config
	}{
		{"unknown backend", config{Store: storeConfig{Backend: "mongo"}}},
		{"valkey without address", config{Store: storeConfig{Backend: "valkey"}}},
		{"postgres without dsn", config{Store: storeConfig{Backend: "postgres"}}},
		{"client without id", config{
			Store:   storeConfig{Backend: "memory"},
			Clients: []clientConfig{{RedirectURIs: []string{"https://a/cb"}}},
		}},
		{"client without redirect", config{
			Store:   storeConfig{Backend: "memory"},
			Clients: []clientConfig{{ID: "c"}},
		}},
		{"profile without user", config{
			Store:    storeConfig{Backend: "memory"},
			Profiles: []profileConfig{{Name: "x"}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.cfg.validate())
		})
	}
}

func TestBuildClient(t *testing.T) {
	confidential, err := buildClient(clientConfig{
		ID:           "web",
		Secret:       "s3cret",
		RedirectURIs: []string{"https://app.example.com/callback"},
	}, bcrypt.MinCost)
	require.NoError(t, err)
	assert.True(t, confidential.IsConfidential())
	assert.True(t, confidential.IsActive)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(confidential.ClientSecretHash), []byte("s3cret")))
	assert.Equal(t, []string{"openid", "profile", "email"}, confidential.AllowedScopes)

	public, err := buildClient(clientConfig{ID: "spa", Scopes: []string{"openid"}, Disabled: true}, bcrypt.MinCost)
	require.NoError(t, err)
	assert.False(t, public.IsConfidential())
	assert.False(t, public.IsActive)
	assert.Equal(t, []string{"openid"}, public.AllowedScopes)
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	defer store.Stop()

	cfg := &config{
		Clients: []clientConfig{{
			ID:           "web",
			Secret:       "s3cret",
			RedirectURIs: []string{"https://app.example.com/callback"},
		}},
		Profiles: []profileConfig{{UserID: "user-1", Email: "ada@example.com"}},
	}
	require.NoError(t, seed(ctx, store, cfg, discardLogger()))

	client, err := store.FindClient(ctx, "web")
	require.NoError(t, err)
	assert.True(t, client.HasRedirectURI("https://app.example.com/callback"))

	profile, err := store.FindProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", profile.Email)
}

func TestNewLogger(t *testing.T) {
	_, _, err := newLogger(logConfig{Level: "loud"})
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "logs", "accountsd.log")
	logger, closer, err := newLogger(logConfig{Level: "debug", File: path, MaxSizeMB: 1})
	require.NoError(t, err)
	logger.Debug("hello", "component", "test")
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(raw), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "DEBUG", line["level"])
}

func TestNewRouter(t *testing.T) {
	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:     "accountsd-test",
		Enabled:         true,
		MetricsExporter: "prometheus",
	})
	require.NoError(t, err)
	defer func() { _ = inst.Shutdown(context.Background()) }()

	store := memory.New()
	defer store.Stop()

	h, err := oauth.NewServer(store, &oauth.Config{
		Logger:          discardLogger(),
		Instrumentation: inst,
	})
	require.NoError(t, err)
	defer h.Close()

	ts := httptest.NewServer(newRouter(h, inst))
	defer ts.Close()

	get := func(path string) (int, string) {
		resp, err := ts.Client().Get(ts.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	status, body := get("/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body)

	status, _ = get(oauth.OpenIDConfigurationPath)
	assert.Equal(t, http.StatusOK, status)

	status, body = get("/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, strings.Contains(body, "oauth_http_requests"), "metrics should include HTTP counters")
}

func TestSetupNotify(t *testing.T) {
	inst, err := instrumentation.New(instrumentation.Config{ServiceName: "accountsd-test"})
	require.NoError(t, err)

	queue, notifier, closeFn, err := setupNotify(notifyConfig{}, discardLogger(), inst)
	require.NoError(t, err)
	assert.Nil(t, notifier)
	closeFn()
	require.NoError(t, queue.Stop(context.Background()))

	queue, notifier, closeFn, err = setupNotify(notifyConfig{LogEvents: true}, discardLogger(), inst)
	require.NoError(t, err)
	assert.NotNil(t, notifier)
	closeFn()
	require.NoError(t, queue.Stop(context.Background()))
}

func TestKeygenCommand(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"keygen"})
	require.NoError(t, cmd.Execute())

	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Len(t, key, 32)
}

func TestClientCommand_RequiresPersistentStore(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"client", "add", "--id", "web", "--redirect-uri", "https://app.example.com/callback"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persistent store")
}

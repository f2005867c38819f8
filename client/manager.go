package client

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"

	"github.com/SamandarAlimov/accounts-sub001/client/sessionstore"
	"github.com/SamandarAlimov/accounts-sub001/internal/util"
	"github.com/SamandarAlimov/accounts-sub001/pkce"
)

// tokenLogLength is the number of characters of a credential allowed in logs
const tokenLogLength = 8

// LoginOptions customises a single Login call.
type LoginOptions struct {
	// Scope overrides Config.Scopes (space separated)
	Scope string

	// ReturnURL is handed back by HandleCallback once the login completes
	ReturnURL string

	// DisablePKCE omits the code challenge
	DisablePKCE bool

	// Params are added to the authorization URL as is
	Params map[string]string
}

// Manager owns one user session: login, callback, refresh and logout.
type Manager struct {
	cfg       Config
	oauth     *oauth2.Config
	store     Storage
	scheduler *Scheduler
	logger    *slog.Logger
	now       func() time.Time

	state    atomic.Int32
	userInfo atomic.Pointer[map[string]any]
}

// NewManager creates a Manager. A session already present in storage is
// restored and its refresh scheduled.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	store := cfg.Storage
	if store == nil {
		store = sessionstore.NewMemory()
	}

	authStyle := oauth2.AuthStyleInParams
	if cfg.ClientSecret != "" {
		authStyle = oauth2.AuthStyleInHeader
	}

	m := &Manager{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: authStyle,
			},
			RedirectURL: cfg.RedirectURL,
			Scopes:      cfg.Scopes,
		},
		store:     store,
		scheduler: NewScheduler(cfg.Logger),
		logger:    cfg.Logger,
		now:       time.Now,
	}

	sess, err := m.loadSession(ctx)
	switch {
	case errors.Is(err, ErrNoSession):
	case err != nil:
		return nil, fmt.Errorf("failed to restore session: %w", err)
	default:
		m.state.Store(int32(StateAuthenticated))
		m.scheduleRefresh(sess, 0)
		m.logger.Debug("Session restored", "expires_at", sess.Expiry())
	}

	return m, nil
}

// State returns the current authentication state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

func (m *Manager) setState(s State) {
	if State(m.state.Swap(int32(s))) == s {
		return
	}
	if m.cfg.OnStateChange != nil {
		m.cfg.OnStateChange(s)
	}
}

// Login starts a login attempt and returns the authorization URL.
func (m *Manager) Login(ctx context.Context, opts LoginOptions) (string, error) {
	m.clearAttempt(ctx)

	state := pkce.GenerateState()
	if err := m.store.Set(ctx, Attempt, KeyCSRFState, state); err != nil {
		return "", opError("login", fmt.Errorf("failed to store state: %w", err))
	}

	var authOpts []oauth2.AuthCodeOption
	if !opts.DisablePKCE {
		verifier := pkce.GenerateVerifier()
		if err := m.store.Set(ctx, Attempt, KeyCodeVerifier, verifier); err != nil {
			return "", opError("login", fmt.Errorf("failed to store verifier: %w", err))
		}
		authOpts = append(authOpts, oauth2.S256ChallengeOption(verifier))
	}
	if opts.ReturnURL != "" {
		if err := m.store.Set(ctx, Attempt, KeyReturnURL, opts.ReturnURL); err != nil {
			return "", opError("login", fmt.Errorf("failed to store return URL: %w", err))
		}
	}
	if opts.Scope != "" {
		authOpts = append(authOpts, oauth2.SetAuthURLParam("scope", opts.Scope))
	}
	for k, v := range opts.Params {
		authOpts = append(authOpts, oauth2.SetAuthURLParam(k, v))
	}

	authURL := m.oauth.AuthCodeURL(state, authOpts...)
	m.setState(StateAuthenticating)

	m.logger.Debug("Login started", "pkce", !opts.DisablePKCE, "return_url", opts.ReturnURL)

	if m.cfg.Redirect != nil {
		if err := m.cfg.Redirect(authURL); err != nil {
			m.setState(StateError)
			return authURL, opError("login", fmt.Errorf("redirect failed: %w", err))
		}
	}
	return authURL, nil
}

// HandleCallback completes the login attempt with the code and state from
// the redirect and returns the ReturnURL given to Login.
func (m *Manager) HandleCallback(ctx context.Context, code, state string) (string, error) {
	returnURL, err := m.handleCallback(ctx, code, state)
	m.clearAttempt(ctx)
	if err != nil {
		m.setState(StateError)
		m.logger.Warn("Login callback failed", "error", err)
		return "", opError("callback", err)
	}
	m.setState(StateAuthenticated)
	return returnURL, nil
}

func (m *Manager) handleCallback(ctx context.Context, code, state string) (string, error) {
	stored, ok, err := m.store.Get(ctx, Attempt, KeyCSRFState)
	if err != nil {
		return "", fmt.Errorf("failed to read state: %w", err)
	}
	switch {
	case !ok && !m.cfg.AllowMissingState:
		return "", ErrStateMissing
	case !ok:
		m.logger.Warn("Accepting callback without stored state")
	case subtle.ConstantTimeCompare([]byte(stored), []byte(state)) != 1:
		return "", ErrStateMismatch
	}

	if code == "" {
		return "", ErrMissingCode
	}

	var exchangeOpts []oauth2.AuthCodeOption
	verifier, ok, err := m.store.Get(ctx, Attempt, KeyCodeVerifier)
	if err != nil {
		return "", fmt.Errorf("failed to read verifier: %w", err)
	}
	if ok {
		exchangeOpts = append(exchangeOpts, oauth2.VerifierOption(verifier))
	}

	returnURL, _, err := m.store.Get(ctx, Attempt, KeyReturnURL)
	if err != nil {
		return "", fmt.Errorf("failed to read return URL: %w", err)
	}

	tok, err := m.oauth.Exchange(m.httpContext(ctx), code, exchangeOpts...)
	if err != nil {
		return "", fmt.Errorf("code exchange failed: %w", err)
	}
	sess := sessionFromToken(tok, nil)

	var claims map[string]any
	if m.cfg.UserInfoURL != "" {
		claims, err = m.fetchUserInfo(ctx, sess.AccessToken)
		if err != nil {
			return "", err
		}
	} else {
		m.logger.Debug("Skipping userinfo fetch, no userinfo URL configured")
	}

	if err := m.saveSession(ctx, sess); err != nil {
		return "", err
	}
	m.userInfo.Store(&claims)
	m.scheduleRefresh(sess, 0)

	m.logger.Info("Login completed",
		"access_token", util.SafeTruncate(sess.AccessToken, tokenLogLength),
		"scope", sess.Scope,
		"expires_at", sess.Expiry())

	return returnURL, nil
}

// GetAccessToken returns a usable access token, refreshing it when it expires
// within the refresh buffer. It reports false when there is no session or the
// refresh failed.
func (m *Manager) GetAccessToken(ctx context.Context) (string, bool) {
	sess, err := m.loadSession(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoSession) {
			m.logger.Warn("Failed to load session", "error", err)
		}
		return "", false
	}
	if sess.ValidFor(m.now(), m.cfg.RefreshBuffer) {
		return sess.AccessToken, true
	}

	refreshed, err := m.refresh(ctx, sess)
	if err != nil {
		m.logger.Warn("Token refresh failed", "error", err)
		return "", false
	}
	return refreshed.AccessToken, true
}

// Refresh exchanges the refresh token for a new access token now.
func (m *Manager) Refresh(ctx context.Context) error {
	sess, err := m.loadSession(ctx)
	if err != nil {
		return opError("refresh", err)
	}
	_, err = m.refresh(ctx, sess)
	return opError("refresh", err)
}

func (m *Manager) refresh(ctx context.Context, sess *Session) (*Session, error) {
	if sess.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	// An expired token forces the token source to hit the token endpoint.
	expired := &oauth2.Token{
		RefreshToken: sess.RefreshToken,
		Expiry:       time.Unix(1, 0),
	}
	tok, err := m.oauth.TokenSource(m.httpContext(ctx), expired).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token exchange failed: %w", err)
	}

	next := sessionFromToken(tok, sess)
	if err := m.saveSession(ctx, next); err != nil {
		return nil, err
	}
	m.scheduleRefresh(next, minRefreshInterval)
	m.setState(StateAuthenticated)

	m.logger.Info("Access token refreshed",
		"access_token", util.SafeTruncate(next.AccessToken, tokenLogLength),
		"expires_at", next.Expiry())

	return next, nil
}

// UserInfo returns the claims fetched at login, fetching them again when
// none are cached.
func (m *Manager) UserInfo(ctx context.Context) (map[string]any, error) {
	if cached := m.userInfo.Load(); cached != nil && *cached != nil {
		out := make(map[string]any, len(*cached))
		for k, v := range *cached {
			out[k] = v
		}
		return out, nil
	}

	if m.cfg.UserInfoURL == "" {
		return nil, opError("userinfo", fmt.Errorf("userinfo URL not configured"))
	}
	token, ok := m.GetAccessToken(ctx)
	if !ok {
		return nil, opError("userinfo", ErrNoSession)
	}
	claims, err := m.fetchUserInfo(ctx, token)
	if err != nil {
		return nil, opError("userinfo", err)
	}
	m.userInfo.Store(&claims)
	return claims, nil
}

func (m *Manager) fetchUserInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := m.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("userinfo returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var claims map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, fmt.Errorf("failed to decode userinfo: %w", err)
	}
	return claims, nil
}

// Logout revokes the access token and then the refresh token at the server
// when possible, and always clears local state.
func (m *Manager) Logout(ctx context.Context) error {
	sess, err := m.loadSession(ctx)
	if err == nil && m.cfg.RevocationURL != "" {
		for _, t := range []struct{ token, hint string }{
			{sess.AccessToken, "access_token"},
			{sess.RefreshToken, "refresh_token"},
		} {
			if t.token == "" {
				continue
			}
			if err := m.revoke(ctx, t.token, t.hint); err != nil {
				m.logger.Warn("Token revocation failed", "token_type", t.hint, "error", err)
			}
		}
	}

	m.scheduler.Cancel(KeySession)
	m.userInfo.Store(nil)
	m.clearAttempt(ctx)
	delErr := m.store.Delete(ctx, Persistent, KeySession)
	m.setState(StateAnonymous)

	if delErr != nil {
		return opError("logout", fmt.Errorf("failed to clear session: %w", delErr))
	}
	m.logger.Info("Logged out")
	return nil
}

func (m *Manager) revoke(ctx context.Context, token, hint string) error {
	form := url.Values{
		"token":           {token},
		"token_type_hint": {hint},
	}
	if m.cfg.ClientSecret == "" {
		form.Set("client_id", m.cfg.ClientID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.RevocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build revocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if m.cfg.ClientSecret != "" {
		req.SetBasicAuth(url.QueryEscape(m.cfg.ClientID), url.QueryEscape(m.cfg.ClientSecret))
	}

	resp, err := m.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("revocation request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revocation returned status %d", resp.StatusCode)
	}
	return nil
}

// Session returns a copy of the persisted session.
func (m *Manager) Session(ctx context.Context) (*Session, error) {
	return m.loadSession(ctx)
}

// Close cancels the scheduled refresh. The session stays in storage.
func (m *Manager) Close() {
	m.scheduler.Stop()
}

// scheduleRefresh arms the refresh timer RefreshBuffer before expiry, but
// never sooner than floor from now.
func (m *Manager) scheduleRefresh(sess *Session, floor time.Duration) {
	if sess.RefreshToken == "" || sess.ExpiresAt == 0 {
		return
	}
	delay := sess.Expiry().Sub(m.now()) - m.cfg.RefreshBuffer
	if delay < floor {
		delay = floor
	}
	m.scheduler.Schedule(KeySession, delay, m.autoRefresh)
}

func (m *Manager) autoRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), autoRefreshTimeout)
	defer cancel()

	err := m.Refresh(ctx)
	if err != nil {
		m.logger.Warn("Scheduled refresh failed", "error", err)
		if m.cfg.OnRefreshError != nil {
			m.cfg.OnRefreshError(err)
		}
		return
	}

	if m.cfg.OnRefreshSuccess != nil {
		if sess, err := m.loadSession(ctx); err == nil {
			m.cfg.OnRefreshSuccess(*sess)
		}
	}
}

func (m *Manager) loadSession(ctx context.Context) (*Session, error) {
	raw, ok, err := m.store.Get(ctx, Persistent, KeySession)
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	if !ok {
		return nil, ErrNoSession
	}

	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &sess, nil
}

func (m *Manager) saveSession(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := m.store.Set(ctx, Persistent, KeySession, string(raw)); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (m *Manager) clearAttempt(ctx context.Context) {
	for _, key := range attemptKeys {
		if err := m.store.Delete(ctx, Attempt, key); err != nil {
			m.logger.Warn("Failed to clear login attempt value", "key", key, "error", err)
		}
	}
}

func (m *Manager) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.cfg.HTTPClient)
}

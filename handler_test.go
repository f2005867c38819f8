package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/SamandarAlimov/accounts-sub001/internal/testutil"
	"github.com/SamandarAlimov/accounts-sub001/pkce"
	"github.com/SamandarAlimov/accounts-sub001/security"
	"github.com/SamandarAlimov/accounts-sub001/server"
	"github.com/SamandarAlimov/accounts-sub001/storage/memory"
)

const testIssuer = "https://auth.example.com"

func setupTestHandler(t *testing.T, cfg *Config) (*Handler, http.Handler) {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)

	ctx := context.Background()
	if err := store.SaveClient(ctx, testutil.GenerateTestClient(t)); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}
	if err := store.SaveProfile(ctx, testutil.GenerateTestProfile()); err != nil {
		t.Fatalf("SaveProfile() error = %v", err)
	}

	if cfg == nil {
		cfg = &Config{}
	}
	cfg.Server.Issuer = testIssuer
	cfg.Server.IDTokenSigningKey = []byte("handler-test-signing-key")
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	h, err := NewServer(store, cfg)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	t.Cleanup(h.Close)
	return h, h.Routes()
}

func authorizeQuery(extra url.Values) string {
	q := url.Values{
		"client_id":     {testutil.TestClientID},
		"redirect_uri":  {testutil.TestRedirectURI},
		"response_type": {"code"},
		"scope":         {"openid profile email"},
		"state":         {"csrf-state"},
		"user_id":       {testutil.TestUserID},
	}
	for k, v := range extra {
		q[k] = v
	}
	return server.AuthorizationPath + "?" + q.Encode()
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
}

func doAuthorize(t *testing.T, routes http.Handler, extra url.Values) AuthorizeResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, authorizeQuery(extra), nil)
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("authorize status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp AuthorizeResponse
	decodeJSON(t, w, &resp)
	return resp
}

func tokenRequest(form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, server.TokenPath, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(testutil.TestClientID, testutil.TestClientSecret)
	return req
}

func doExchange(t *testing.T, routes http.Handler, code, verifier string) TokenResponse {
	t.Helper()
	form := url.Values{
		"grant_type":   {server.GrantTypeAuthorizationCode},
		"code":         {code},
		"redirect_uri": {testutil.TestRedirectURI},
	}
	if verifier != "" {
		form.Set("code_verifier", verifier)
	}
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, tokenRequest(form))
	if w.Code != http.StatusOK {
		t.Fatalf("token status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp TokenResponse
	decodeJSON(t, w, &resp)
	return resp
}

func TestHandler_FullFlow(t *testing.T) {
	_, routes := setupTestHandler(t, nil)

	verifier := "abc123"
	auth := doAuthorize(t, routes, url.Values{
		"code_challenge":        {pkce.DeriveChallenge(verifier)},
		"code_challenge_method": {pkce.MethodS256},
	})
	if auth.State != "csrf-state" {
		t.Errorf("state = %q, want csrf-state", auth.State)
	}

	tokens := doExchange(t, routes, auth.Code, verifier)
	if tokens.ExpiresIn != 3600 {
		t.Errorf("expires_in = %d, want 3600", tokens.ExpiresIn)
	}
	if tokens.TokenType != "Bearer" || tokens.IDToken == "" {
		t.Errorf("token_type = %q, id_token present = %v", tokens.TokenType, tokens.IDToken != "")
	}

	// userinfo
	req := httptest.NewRequest(http.MethodGet, server.UserInfoPath, nil)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("userinfo status = %d, body = %s", w.Code, w.Body.String())
	}
	if cc := w.Header().Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", cc)
	}
	var claims map[string]any
	decodeJSON(t, w, &claims)
	if claims["sub"] != testutil.TestUserID || claims["email"] != "test@example.com" {
		t.Errorf("claims = %v", claims)
	}

	// second exchange
	form := url.Values{
		"grant_type":    {server.GrantTypeAuthorizationCode},
		"code":          {auth.Code},
		"redirect_uri":  {testutil.TestRedirectURI},
		"code_verifier": {verifier},
	}
	w = httptest.NewRecorder()
	routes.ServeHTTP(w, tokenRequest(form))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("second exchange status = %d, want 400", w.Code)
	}
	var errResp ErrorResponse
	decodeJSON(t, w, &errResp)
	if errResp.Error != ErrorCodeInvalidGrant {
		t.Errorf("error = %q, want invalid_grant", errResp.Error)
	}

	// revoke
	revoke := httptest.NewRequest(http.MethodPost, server.RevocationPath,
		strings.NewReader(url.Values{"token": {tokens.RefreshToken}}.Encode()))
	revoke.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	revoke.SetBasicAuth(testutil.TestClientID, testutil.TestClientSecret)
	w = httptest.NewRecorder()
	routes.ServeHTTP(w, revoke)
	if w.Code != http.StatusOK {
		t.Fatalf("revoke status = %d, body = %s", w.Code, w.Body.String())
	}

	// the access token died with its refresh token
	req = httptest.NewRequest(http.MethodGet, server.UserInfoPath, nil)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	w = httptest.NewRecorder()
	routes.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("userinfo after revoke status = %d, want 401", w.Code)
	}
	if got := w.Header().Get("WWW-Authenticate"); !strings.Contains(got, `error="invalid_token"`) {
		t.Errorf("WWW-Authenticate = %q", got)
	}
}

func TestHandler_AuthorizeRedirect(t *testing.T) {
	_, routes := setupTestHandler(t, nil)

	tests := []struct {
		name   string
		extra  url.Values
		accept string
	}{
		{name: "accept html", accept: "text/html,application/xhtml+xml"},
		{name: "redirect param", extra: url.Values{"redirect": {"1"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, authorizeQuery(tt.extra), nil)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			w := httptest.NewRecorder()
			routes.ServeHTTP(w, req)

			if w.Code != http.StatusFound {
				t.Fatalf("status = %d, want 302", w.Code)
			}
			loc, err := url.Parse(w.Header().Get("Location"))
			if err != nil {
				t.Fatalf("Location: %v", err)
			}
			if !strings.HasPrefix(loc.String(), testutil.TestRedirectURI+"?") {
				t.Errorf("Location = %q", loc)
			}
			if loc.Query().Get("code") == "" || loc.Query().Get("state") != "csrf-state" {
				t.Errorf("Location query = %v", loc.Query())
			}
		})
	}
}

func TestHandler_AuthorizeErrors(t *testing.T) {
	_, routes := setupTestHandler(t, nil)

	tests := []struct {
		name       string
		extra      url.Values
		wantStatus int
		wantCode   string
	}{
		{"missing user", url.Values{"user_id": {""}}, http.StatusBadRequest, ErrorCodeInvalidRequest},
		{"unknown client", url.Values{"client_id": {"nope"}}, http.StatusUnauthorized, ErrorCodeInvalidClient},
		{"bad redirect", url.Values{"redirect_uri": {"https://evil.example.com"}}, http.StatusBadRequest, ErrorCodeInvalidRequest},
		{"bad scope", url.Values{"scope": {"openid admin"}}, http.StatusBadRequest, ErrorCodeInvalidScope},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, authorizeQuery(tt.extra), nil)
			w := httptest.NewRecorder()
			routes.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var resp ErrorResponse
			decodeJSON(t, w, &resp)
			if resp.Error != tt.wantCode {
				t.Errorf("error = %q, want %q", resp.Error, tt.wantCode)
			}
		})
	}
}

func TestHandler_TokenJSONBody(t *testing.T) {
	_, routes := setupTestHandler(t, nil)
	auth := doAuthorize(t, routes, nil)

	body, _ := json.Marshal(map[string]string{
		"grant_type":    server.GrantTypeAuthorizationCode,
		"code":          auth.Code,
		"redirect_uri":  testutil.TestRedirectURI,
		"client_id":     testutil.TestClientID,
		"client_secret": testutil.TestClientSecret,
	})
	req := httptest.NewRequest(http.MethodPost, server.TokenPath, strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var tokens TokenResponse
	decodeJSON(t, w, &tokens)

	// refresh keeps the refresh token
	w = httptest.NewRecorder()
	routes.ServeHTTP(w, tokenRequest(url.Values{
		"grant_type":    {server.GrantTypeRefreshToken},
		"refresh_token": {tokens.RefreshToken},
	}))
	if w.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, body = %s", w.Code, w.Body.String())
	}
	var refreshed TokenResponse
	decodeJSON(t, w, &refreshed)
	if refreshed.RefreshToken != tokens.RefreshToken || refreshed.AccessToken == tokens.AccessToken {
		t.Errorf("refresh response = %+v", refreshed)
	}
}

func TestHandler_TokenErrors(t *testing.T) {
	_, routes := setupTestHandler(t, nil)

	t.Run("unsupported grant", func(t *testing.T) {
		w := httptest.NewRecorder()
		routes.ServeHTTP(w, tokenRequest(url.Values{"grant_type": {"password"}}))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
		var resp ErrorResponse
		decodeJSON(t, w, &resp)
		if resp.Error != ErrorCodeUnsupportedGrantType {
			t.Errorf("error = %q", resp.Error)
		}
	})

	t.Run("bad secret", func(t *testing.T) {
		req := tokenRequest(url.Values{"grant_type": {server.GrantTypeRefreshToken}, "refresh_token": {"x"}})
		req.SetBasicAuth(testutil.TestClientID, "wrong")
		w := httptest.NewRecorder()
		routes.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", w.Code)
		}
		if !strings.HasPrefix(w.Header().Get("WWW-Authenticate"), "Bearer ") {
			t.Errorf("WWW-Authenticate = %q", w.Header().Get("WWW-Authenticate"))
		}
	})

	t.Run("basic and body client mismatch", func(t *testing.T) {
		req := tokenRequest(url.Values{"grant_type": {server.GrantTypeRefreshToken}, "client_id": {"other"}})
		w := httptest.NewRecorder()
		routes.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", w.Code)
		}
	})

	t.Run("method not allowed", func(t *testing.T) {
		w := httptest.NewRecorder()
		routes.ServeHTTP(w, httptest.NewRequest(http.MethodGet, server.TokenPath, nil))
		if w.Code != http.StatusMethodNotAllowed {
			t.Fatalf("status = %d, want 405", w.Code)
		}
	})
}

func TestHandler_TokenRateLimit(t *testing.T) {
	_, routes := setupTestHandler(t, &Config{RateLimit: RateLimitConfig{Rate: 1, Burst: 1}})

	form := url.Values{"grant_type": {server.GrantTypeRefreshToken}, "refresh_token": {"unknown"}}

	w := httptest.NewRecorder()
	routes.ServeHTTP(w, tokenRequest(form))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("first status = %d, want 400", w.Code)
	}

	w = httptest.NewRecorder()
	routes.ServeHTTP(w, tokenRequest(form))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", w.Code)
	}
	var resp ErrorResponse
	decodeJSON(t, w, &resp)
	if resp.Error != ErrorCodeSlowDown {
		t.Errorf("error = %q, want slow_down", resp.Error)
	}
}

func TestHandler_TokenRateLimitAudited(t *testing.T) {
	var logs bytes.Buffer
	_, routes := setupTestHandler(t, &Config{
		Logger:    slog.New(slog.NewJSONHandler(&logs, nil)),
		RateLimit: RateLimitConfig{Rate: 1, Burst: 1},
		Security:  SecurityConfig{EnableAuditLogging: true},
	})

	form := url.Values{"grant_type": {server.GrantTypeRefreshToken}, "refresh_token": {"unknown"}}
	for range 2 {
		routes.ServeHTTP(httptest.NewRecorder(), tokenRequest(form))
	}

	out := logs.String()
	if !strings.Contains(out, `"event_type":"`+security.EventRateLimitExceeded+`"`) {
		t.Fatalf("rate limit audit event missing from logs:\n%s", out)
	}
	if !strings.Contains(out, `"client_id":"`+testutil.TestClientID+`"`) {
		t.Errorf("audit event does not name the client:\n%s", out)
	}
}

func TestHandler_RevokeUnknownToken(t *testing.T) {
	_, routes := setupTestHandler(t, nil)

	body := `{"token":"does-not-exist","token_type_hint":"refresh_token"}`
	req := httptest.NewRequest(http.MethodPost, server.RevocationPath, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp RevokeResponse
	decodeJSON(t, w, &resp)
	if !resp.Success {
		t.Error("success = false")
	}
}

func TestHandler_UserInfoMissingToken(t *testing.T) {
	_, routes := setupTestHandler(t, nil)

	w := httptest.NewRecorder()
	routes.ServeHTTP(w, httptest.NewRequest(http.MethodGet, server.UserInfoPath, nil))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if w.Header().Get("WWW-Authenticate") == "" {
		t.Error("WWW-Authenticate header missing")
	}
}

func TestHandler_UserInfoFormToken(t *testing.T) {
	_, routes := setupTestHandler(t, nil)
	tokens := doExchange(t, routes, doAuthorize(t, routes, url.Values{"scope": {"openid"}}).Code, "")

	req := httptest.NewRequest(http.MethodPost, server.UserInfoPath,
		strings.NewReader(url.Values{"access_token": {tokens.AccessToken}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var claims map[string]any
	decodeJSON(t, w, &claims)
	if len(claims) != 1 || claims["sub"] != testutil.TestUserID {
		t.Errorf("claims = %v, want only sub", claims)
	}
}

func TestHandler_Metadata(t *testing.T) {
	_, routes := setupTestHandler(t, nil)

	for _, path := range []string{OpenIDConfigurationPath, AuthorizationServerMetadataPath} {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			routes.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			if cc := w.Header().Get("Cache-Control"); cc != "public, max-age=3600" {
				t.Errorf("Cache-Control = %q", cc)
			}
			var md AuthorizationServerMetadata
			decodeJSON(t, w, &md)
			if md.Issuer != testIssuer || md.TokenEndpoint != testIssuer+server.TokenPath {
				t.Errorf("metadata = %+v", md)
			}
		})
	}
}

func TestHandler_RequestIDAndSecurityHeaders(t *testing.T) {
	_, routes := setupTestHandler(t, nil)

	req := httptest.NewRequest(http.MethodGet, OpenIDConfigurationPath, nil)
	req.Header.Set(security.RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)

	if got := w.Header().Get(security.RequestIDHeader); got != "req-123" {
		t.Errorf("X-Request-ID = %q, want req-123", got)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := w.Header().Get("Strict-Transport-Security"); got == "" {
		t.Error("HSTS header missing for https issuer")
	}
}

func TestFormatWWWAuthenticate(t *testing.T) {
	got := formatWWWAuthenticate("invalid_token", `bad "token"`)
	want := `Bearer error="invalid_token", error_description="bad \"token\""`
	if got != want {
		t.Errorf("formatWWWAuthenticate() = %q, want %q", got, want)
	}
}

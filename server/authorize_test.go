package server

import (
	"context"
	"strings"
	"testing"

	"github.com/SamandarAlimov/accounts-sub001/internal/testutil"
	"github.com/SamandarAlimov/accounts-sub001/pkce"
)

func TestAuthorize(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ctx := context.Background()

	challenge := pkce.DeriveChallenge(pkce.GenerateVerifier())

	resp, err := srv.Authorize(ctx, &AuthorizeRequest{
		ClientID:            testutil.TestClientID,
		RedirectURI:         testutil.TestRedirectURI,
		Scope:               "openid profile",
		State:               "state-1",
		ResponseType:        "code",
		CodeChallenge:       challenge,
		CodeChallengeMethod: pkce.MethodS256,
		UserID:              testutil.TestUserID,
	})
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if resp.Code == "" {
		t.Error("Code should not be empty")
	}
	if resp.State != "state-1" {
		t.Errorf("State = %q, want %q", resp.State, "state-1")
	}
	if resp.RedirectURI != testutil.TestRedirectURI {
		t.Errorf("RedirectURI = %q, want %q", resp.RedirectURI, testutil.TestRedirectURI)
	}

	stored, err := srv.store.FindUnusedCode(ctx, resp.Code, testutil.TestClientID)
	if err != nil {
		t.Fatalf("FindUnusedCode() error = %v", err)
	}
	if stored.Scope != "openid profile" {
		t.Errorf("stored Scope = %q, want %q", stored.Scope, "openid profile")
	}
	if stored.CodeChallenge != challenge || stored.CodeChallengeMethod != pkce.MethodS256 {
		t.Errorf("stored challenge = %q/%q", stored.CodeChallenge, stored.CodeChallengeMethod)
	}
	if got := stored.ExpiresAt.Sub(stored.CreatedAt); got != DefaultAuthorizationCodeTTL {
		t.Errorf("code lifetime = %v, want %v", got, DefaultAuthorizationCodeTTL)
	}
}

func TestAuthorize_DefaultScope(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ctx := context.Background()

	code := issueCode(t, srv, "", "")
	stored, err := srv.store.FindUnusedCode(ctx, code, testutil.TestClientID)
	if err != nil {
		t.Fatalf("FindUnusedCode() error = %v", err)
	}
	if stored.Scope != DefaultScope {
		t.Errorf("Scope = %q, want %q", stored.Scope, DefaultScope)
	}
}

func TestAuthorize_Validation(t *testing.T) {
	valid := func() *AuthorizeRequest {
		return &AuthorizeRequest{
			ClientID:    testutil.TestClientID,
			RedirectURI: testutil.TestRedirectURI,
			Scope:       "openid",
			UserID:      testutil.TestUserID,
		}
	}

	tests := []struct {
		name     string
		config   *Config
		mutate   func(r *AuthorizeRequest)
		wantCode string
		wantDesc string
	}{
		{
			name:     "missing client_id",
			mutate:   func(r *AuthorizeRequest) { r.ClientID = "" },
			wantCode: ErrorCodeInvalidRequest,
		},
		{
			name:     "missing redirect_uri",
			mutate:   func(r *AuthorizeRequest) { r.RedirectURI = "" },
			wantCode: ErrorCodeInvalidRequest,
		},
		{
			name:     "missing user_id",
			mutate:   func(r *AuthorizeRequest) { r.UserID = "" },
			wantCode: ErrorCodeInvalidRequest,
		},
		{
			name:     "unknown client",
			mutate:   func(r *AuthorizeRequest) { r.ClientID = "nope" },
			wantCode: ErrorCodeInvalidClient,
		},
		{
			name:     "unregistered redirect",
			mutate:   func(r *AuthorizeRequest) { r.RedirectURI = "https://evil.example.com/callback" },
			wantCode: ErrorCodeInvalidRequest,
		},
		{
			name:     "redirect must match exactly",
			mutate:   func(r *AuthorizeRequest) { r.RedirectURI = testutil.TestRedirectURI + "/" },
			wantCode: ErrorCodeInvalidRequest,
		},
		{
			name:     "disallowed scope lists offenders",
			mutate:   func(r *AuthorizeRequest) { r.Scope = "openid admin write" },
			wantCode: ErrorCodeInvalidScope,
			wantDesc: "admin, write",
		},
		{
			name:     "unsupported scope",
			config:   &Config{SupportedScopes: []string{"openid"}},
			mutate:   func(r *AuthorizeRequest) { r.Scope = "openid email" },
			wantCode: ErrorCodeInvalidScope,
			wantDesc: "email",
		},
		{
			name:     "response_type token",
			mutate:   func(r *AuthorizeRequest) { r.ResponseType = "token" },
			wantCode: ErrorCodeInvalidRequest,
		},
		{
			name:     "method without challenge",
			mutate:   func(r *AuthorizeRequest) { r.CodeChallengeMethod = pkce.MethodS256 },
			wantCode: ErrorCodeInvalidRequest,
		},
		{
			name: "plain rejected by default",
			mutate: func(r *AuthorizeRequest) {
				r.CodeChallenge = "abc123"
				r.CodeChallengeMethod = pkce.MethodPlain
			},
			wantCode: ErrorCodeInvalidRequest,
		},
		{
			name:     "challenge without method means plain",
			mutate:   func(r *AuthorizeRequest) { r.CodeChallenge = "abc123" },
			wantCode: ErrorCodeInvalidRequest,
			wantDesc: "code_challenge_method S256 is required",
		},
		{
			name:     "unknown method",
			mutate:   func(r *AuthorizeRequest) { r.CodeChallenge, r.CodeChallengeMethod = "abc123", "S512" },
			wantCode: ErrorCodeInvalidRequest,
		},
		{
			name:     "pkce required",
			config:   &Config{RequirePKCE: true},
			mutate:   func(r *AuthorizeRequest) {},
			wantCode: ErrorCodeInvalidRequest,
		},
		{
			name: "malformed challenge",
			mutate: func(r *AuthorizeRequest) {
				r.CodeChallenge = "not a challenge!"
				r.CodeChallengeMethod = pkce.MethodS256
			},
			wantCode: ErrorCodeInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, tt.config)

			req := valid()
			tt.mutate(req)

			_, err := srv.Authorize(context.Background(), req)
			oauthErr := assertOAuthError(t, err, tt.wantCode)
			if tt.wantDesc != "" && !strings.Contains(oauthErr.Description, tt.wantDesc) {
				t.Errorf("Description = %q, want it to contain %q", oauthErr.Description, tt.wantDesc)
			}
		})
	}
}

func TestAuthorize_InactiveClient(t *testing.T) {
	srv, store := newTestServer(t, nil)
	ctx := context.Background()

	if err := store.SetClientActive(ctx, testutil.TestClientID, false); err != nil {
		t.Fatalf("SetClientActive() error = %v", err)
	}

	_, err := srv.Authorize(ctx, &AuthorizeRequest{
		ClientID:    testutil.TestClientID,
		RedirectURI: testutil.TestRedirectURI,
		UserID:      testutil.TestUserID,
	})
	oauthErr := assertOAuthError(t, err, ErrorCodeInvalidClient)
	if oauthErr.Status != 401 {
		t.Errorf("Status = %d, want 401", oauthErr.Status)
	}
}

func TestAuthorize_ValidationOrder(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	// Unregistered redirect and a bad scope: the redirect check runs first.
	_, err := srv.Authorize(context.Background(), &AuthorizeRequest{
		ClientID:    testutil.TestClientID,
		RedirectURI: "https://evil.example.com/callback",
		Scope:       "admin",
		UserID:      testutil.TestUserID,
	})
	assertOAuthError(t, err, ErrorCodeInvalidRequest)
}

func TestAuthorize_PlainAllowed(t *testing.T) {
	srv, _ := newTestServer(t, &Config{AllowPKCEPlain: true})

	resp, err := srv.Authorize(context.Background(), &AuthorizeRequest{
		ClientID:      testutil.TestClientID,
		RedirectURI:   testutil.TestRedirectURI,
		UserID:        testutil.TestUserID,
		CodeChallenge: "abc123",
	})
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}

	if _, err := exchange(srv, resp.Code, "abc123"); err != nil {
		t.Fatalf("ExchangeAuthorizationCode() error = %v", err)
	}
}

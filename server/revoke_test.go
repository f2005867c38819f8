package server

import (
	"context"
	"testing"

	"github.com/SamandarAlimov/accounts-sub001/internal/testutil"
)

func revoke(srv *Server, token, hint string) (*RevokeResponse, error) {
	return srv.RevokeToken(context.Background(), &RevokeRequest{
		Token:         token,
		TokenTypeHint: hint,
		ClientID:      testutil.TestClientID,
		ClientSecret:  testutil.TestClientSecret,
	})
}

func TestRevoke_RefreshCascadesToLineage(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ctx := context.Background()

	first := mustIssueTokens(t, srv, "openid")
	second, err := refresh(srv, first.RefreshToken)
	if err != nil {
		t.Fatalf("RefreshAccessToken() error = %v", err)
	}

	resp, err := revoke(srv, first.RefreshToken, TokenTypeHintRefreshToken)
	if err != nil {
		t.Fatalf("RevokeToken() error = %v", err)
	}
	if !resp.Success {
		t.Error("Success should be true")
	}

	for _, token := range []string{first.AccessToken, second.AccessToken} {
		_, err := srv.UserInfo(ctx, token)
		assertOAuthError(t, err, ErrorCodeInvalidToken)
	}
	_, err = refresh(srv, first.RefreshToken)
	assertOAuthError(t, err, ErrorCodeInvalidGrant)
}

func TestRevoke_AccessCascadesToRefresh(t *testing.T) {
	for _, hint := range []string{"", TokenTypeHintAccessToken, TokenTypeHintRefreshToken} {
		t.Run("hint="+hint, func(t *testing.T) {
			srv, _ := newTestServer(t, nil)
			ctx := context.Background()

			first := mustIssueTokens(t, srv, "openid")
			second, err := refresh(srv, first.RefreshToken)
			if err != nil {
				t.Fatalf("RefreshAccessToken() error = %v", err)
			}

			if _, err := revoke(srv, second.AccessToken, hint); err != nil {
				t.Fatalf("RevokeToken() error = %v", err)
			}

			_, err = refresh(srv, first.RefreshToken)
			assertOAuthError(t, err, ErrorCodeInvalidGrant)

			_, err = srv.UserInfo(ctx, first.AccessToken)
			assertOAuthError(t, err, ErrorCodeInvalidToken)
		})
	}
}

func TestRevoke_UnrelatedSessionSurvives(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	a := mustIssueTokens(t, srv, "openid")
	b := mustIssueTokens(t, srv, "openid")

	if _, err := revoke(srv, a.RefreshToken, ""); err != nil {
		t.Fatalf("RevokeToken() error = %v", err)
	}

	if _, err := srv.UserInfo(context.Background(), b.AccessToken); err != nil {
		t.Errorf("unrelated access token was revoked: %v", err)
	}
	if _, err := refresh(srv, b.RefreshToken); err != nil {
		t.Errorf("unrelated refresh token was revoked: %v", err)
	}
}

func TestRevoke_UnknownTokenSucceeds(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	for _, hint := range []string{"", TokenTypeHintAccessToken, TokenTypeHintRefreshToken, "bogus"} {
		resp, err := revoke(srv, "does-not-exist", hint)
		if err != nil {
			t.Fatalf("RevokeToken(hint=%q) error = %v", hint, err)
		}
		if !resp.Success {
			t.Errorf("RevokeToken(hint=%q) Success = false", hint)
		}
	}
}

func TestRevoke_Idempotent(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	tokens := mustIssueTokens(t, srv, "openid")

	for range 2 {
		resp, err := revoke(srv, tokens.AccessToken, "")
		if err != nil || !resp.Success {
			t.Fatalf("RevokeToken() = %+v, %v", resp, err)
		}
	}
}

func TestRevoke_ClientAuthentication(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ctx := context.Background()
	tokens := mustIssueTokens(t, srv, "openid")

	_, err := srv.RevokeToken(ctx, &RevokeRequest{Token: tokens.AccessToken, ClientID: testutil.TestClientID, ClientSecret: "wrong"})
	assertOAuthError(t, err, ErrorCodeInvalidClient)

	_, err = srv.RevokeToken(ctx, &RevokeRequest{Token: tokens.AccessToken, ClientID: "unknown"})
	assertOAuthError(t, err, ErrorCodeInvalidClient)

	_, err = srv.RevokeToken(ctx, &RevokeRequest{})
	assertOAuthError(t, err, ErrorCodeInvalidRequest)

	// The token is still live after the rejected attempts.
	if _, err := srv.UserInfo(ctx, tokens.AccessToken); err != nil {
		t.Errorf("UserInfo() error = %v", err)
	}
}

func TestRevoke_OtherClientsTokenIsNoMatch(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ctx := context.Background()
	tokens := mustIssueTokens(t, srv, "openid")

	resp, err := srv.RevokeToken(ctx, &RevokeRequest{Token: tokens.AccessToken, ClientID: testPublicClientID})
	if err != nil {
		t.Fatalf("RevokeToken() error = %v", err)
	}
	if !resp.Success {
		t.Error("Success should be true")
	}

	if _, err := srv.UserInfo(ctx, tokens.AccessToken); err != nil {
		t.Errorf("token of another client was revoked: %v", err)
	}
}

func TestRevoke_WithoutClientCredentials(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ctx := context.Background()
	tokens := mustIssueTokens(t, srv, "openid")

	if _, err := srv.RevokeToken(ctx, &RevokeRequest{Token: tokens.RefreshToken}); err != nil {
		t.Fatalf("RevokeToken() error = %v", err)
	}
	_, err := srv.UserInfo(ctx, tokens.AccessToken)
	assertOAuthError(t, err, ErrorCodeInvalidToken)
}

package server

import (
	"slices"
	"testing"

	"github.com/SamandarAlimov/accounts-sub001/pkce"
)

func TestMetadata(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	md := srv.Metadata()

	if md.Issuer != testIssuer {
		t.Errorf("issuer = %q, want %q", md.Issuer, testIssuer)
	}

	endpoints := map[string]string{
		md.AuthorizationEndpoint: testIssuer + "/oauth/authorize",
		md.TokenEndpoint:         testIssuer + "/oauth/token",
		md.UserInfoEndpoint:      testIssuer + "/oauth/userinfo",
		md.RevocationEndpoint:    testIssuer + "/oauth/revoke",
	}
	for got, want := range endpoints {
		if got != want {
			t.Errorf("endpoint = %q, want %q", got, want)
		}
	}

	if !slices.Equal(md.ResponseTypesSupported, []string{"code"}) {
		t.Errorf("response_types_supported = %v", md.ResponseTypesSupported)
	}
	if !slices.Equal(md.CodeChallengeMethodsSupported, []string{pkce.MethodS256}) {
		t.Errorf("code_challenge_methods_supported = %v", md.CodeChallengeMethodsSupported)
	}
	if !slices.Equal(md.IDTokenSigningAlgValuesSupported, []string{"HS256"}) {
		t.Errorf("id_token_signing_alg_values_supported = %v", md.IDTokenSigningAlgValuesSupported)
	}
	if !slices.Contains(md.GrantTypesSupported, GrantTypeRefreshToken) {
		t.Errorf("grant_types_supported = %v", md.GrantTypesSupported)
	}
	if !slices.Contains(md.ClaimsSupported, "email_verified") {
		t.Errorf("claims_supported = %v", md.ClaimsSupported)
	}
}

func TestMetadata_Config(t *testing.T) {
	srv, _ := newTestServer(t, &Config{
		AllowPKCEPlain:  true,
		SupportedScopes: []string{"openid", "email"},
	})
	md := srv.Metadata()

	if !slices.Contains(md.CodeChallengeMethodsSupported, pkce.MethodPlain) {
		t.Errorf("plain should be advertised when allowed: %v", md.CodeChallengeMethodsSupported)
	}
	if !slices.Equal(md.ScopesSupported, []string{"openid", "email"}) {
		t.Errorf("scopes_supported = %v", md.ScopesSupported)
	}
}

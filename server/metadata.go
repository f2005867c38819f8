package server

import (
	"slices"

	"github.com/SamandarAlimov/accounts-sub001/pkce"
)

// Endpoint paths, relative to the issuer.
const (
	AuthorizationPath = "/oauth/authorize"
	TokenPath         = "/oauth/token" //nolint:gosec // URL path
	UserInfoPath      = "/oauth/userinfo"
	RevocationPath    = "/oauth/revoke"
)

// Metadata is the discovery document served at both
// /.well-known/openid-configuration and /.well-known/oauth-authorization-server.
type Metadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserInfoEndpoint                  string   `json:"userinfo_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported"`
	ClaimsSupported                   []string `json:"claims_supported"`
}

var defaultScopes = []string{"openid", "profile", "email", "phone", "address"}

var supportedClaims = []string{
	"sub", "iss", "aud", "iat", "exp",
	"name", "given_name", "family_name", "picture", "updated_at",
	"email", "email_verified",
	"phone_number", "phone_number_verified",
	"address",
}

// Metadata returns the discovery document for this server.
func (s *Server) Metadata() *Metadata {
	issuer := s.Config.Issuer

	scopes := defaultScopes
	if len(s.Config.SupportedScopes) > 0 {
		scopes = s.Config.SupportedScopes
	}

	methods := []string{pkce.MethodS256}
	if s.Config.AllowPKCEPlain {
		methods = append(methods, pkce.MethodPlain)
	}

	return &Metadata{
		Issuer:                            issuer,
		AuthorizationEndpoint:             issuer + AuthorizationPath,
		TokenEndpoint:                     issuer + TokenPath,
		UserInfoEndpoint:                  issuer + UserInfoPath,
		RevocationEndpoint:                issuer + RevocationPath,
		ScopesSupported:                   slices.Clone(scopes),
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post", "none"},
		CodeChallengeMethodsSupported:     methods,
		SubjectTypesSupported:             []string{"public"},
		IDTokenSigningAlgValuesSupported:  []string{s.signer.Algorithm()},
		ClaimsSupported:                   slices.Clone(supportedClaims),
	}
}

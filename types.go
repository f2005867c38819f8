package oauth

import "github.com/SamandarAlimov/accounts-sub001/server"

// ErrorResponse represents an OAuth error response
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`
}

// Wire types shared with the server package.
type (
	AuthorizeRequest  = server.AuthorizeRequest
	AuthorizeResponse = server.AuthorizeResponse
	TokenRequest      = server.TokenRequest
	TokenResponse     = server.TokenResponse
	RevokeRequest     = server.RevokeRequest
	RevokeResponse    = server.RevokeResponse

	// AuthorizationServerMetadata is the discovery document (RFC 8414, OIDC Discovery 1.0)
	AuthorizationServerMetadata = server.Metadata
)

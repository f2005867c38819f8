package oauth

import "github.com/SamandarAlimov/accounts-sub001/server"

// OAuth error codes, re-exported from the server package.
const (
	ErrorCodeInvalidRequest       = server.ErrorCodeInvalidRequest
	ErrorCodeInvalidClient        = server.ErrorCodeInvalidClient
	ErrorCodeInvalidGrant         = server.ErrorCodeInvalidGrant
	ErrorCodeInvalidScope         = server.ErrorCodeInvalidScope
	ErrorCodeInvalidToken         = server.ErrorCodeInvalidToken
	ErrorCodeUnsupportedGrantType = server.ErrorCodeUnsupportedGrantType
	ErrorCodeServerError          = server.ErrorCodeServerError
	ErrorCodeSlowDown             = server.ErrorCodeSlowDown
)

// OAuthError represents an OAuth 2.0 error response
type OAuthError = server.OAuthError

// NewOAuthError creates a new OAuth error
var NewOAuthError = server.NewOAuthError

// Error constructors
var (
	ErrInvalidRequest       = server.ErrInvalidRequest
	ErrInvalidClient        = server.ErrInvalidClient
	ErrInvalidGrant         = server.ErrInvalidGrant
	ErrInvalidScope         = server.ErrInvalidScope
	ErrInvalidToken         = server.ErrInvalidToken
	ErrUnsupportedGrantType = server.ErrUnsupportedGrantType
	ErrServerError          = server.ErrServerError
	ErrSlowDown             = server.ErrSlowDown
)

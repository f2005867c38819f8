package storage

import (
	"context"
	"errors"
	"slices"
	"time"
)

// Sentinel errors returned by Store implementations. Callers match them with errors.Is.
var (
	// ErrNotFound is the parent of every "no such row" error
	ErrNotFound = errors.New("not found")

	ErrClientNotFound  = notFound("client not found")
	ErrCodeNotFound    = notFound("authorization code not found")
	ErrTokenNotFound   = notFound("token not found")
	ErrProfileNotFound = notFound("profile not found")

	// ErrAlreadyExists is returned when inserting a row whose unique key is taken
	ErrAlreadyExists = errors.New("already exists")
)

type notFoundError struct{ msg string }

func notFound(msg string) error { return &notFoundError{msg: msg} }

func (e *notFoundError) Error() string        { return e.msg }
func (e *notFoundError) Is(target error) bool { return target == ErrNotFound }

// Client is a registered OAuth client. Clients are created out of band by an operator.
type Client struct {
	ClientID string `json:"client_id"`

	// ClientSecretHash is the bcrypt hash of the client secret.
	// Empty for public clients.
	ClientSecretHash string `json:"client_secret_hash,omitempty"`

	RedirectURIs  []string  `json:"redirect_uris"`
	AllowedScopes []string  `json:"allowed_scopes"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
}

// IsConfidential reports whether the client authenticates with a secret.
func (c *Client) IsConfidential() bool {
	return c.ClientSecretHash != ""
}

// HasRedirectURI reports whether uri exactly matches a registered redirect URI.
func (c *Client) HasRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// DisallowedScopes returns the requested scopes that are not in AllowedScopes.
func (c *Client) DisallowedScopes(requested []string) []string {
	var bad []string
	for _, s := range requested {
		if !slices.Contains(c.AllowedScopes, s) {
			bad = append(bad, s)
		}
	}
	return bad
}

// AuthorizationCode is a short-lived, single-use credential.
type AuthorizationCode struct {
	ID                  string    `json:"id"`
	Code                string    `json:"code"`
	ClientID            string    `json:"client_id"`
	UserID              string    `json:"user_id"`
	RedirectURI         string    `json:"redirect_uri"`
	Scope               string    `json:"scope"`
	State               string    `json:"state,omitempty"`
	CodeChallenge       string    `json:"code_challenge,omitempty"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty"`
	Used                bool      `json:"used"`
	CreatedAt           time.Time `json:"created_at"`
	ExpiresAt           time.Time `json:"expires_at"`
}

// AccessToken is a bearer credential. RefreshTokenID links it to the
// refresh token of its session lineage.
type AccessToken struct {
	ID             string    `json:"id"`
	Token          string    `json:"token"`
	ClientID       string    `json:"client_id"`
	UserID         string    `json:"user_id"`
	Scope          string    `json:"scope"`
	RefreshTokenID string    `json:"refresh_token_id,omitempty"`
	Revoked        bool      `json:"revoked"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// RefreshToken is a long-lived credential. AccessTokenID points at the
// access token it was minted alongside.
type RefreshToken struct {
	ID            string    `json:"id"`
	Token         string    `json:"token"`
	AccessTokenID string    `json:"access_token_id"`
	ClientID      string    `json:"client_id"`
	UserID        string    `json:"user_id"`
	Scope         string    `json:"scope"`
	Revoked       bool      `json:"revoked"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Address is the OIDC address claim.
type Address struct {
	Formatted     string `json:"formatted,omitempty"`
	StreetAddress string `json:"street_address,omitempty"`
	Locality      string `json:"locality,omitempty"`
	Region        string `json:"region,omitempty"`
	PostalCode    string `json:"postal_code,omitempty"`
	Country       string `json:"country,omitempty"`
}

// Profile is the user record projected into userinfo and id_token claims.
type Profile struct {
	UserID              string    `json:"user_id"`
	Name                string    `json:"name,omitempty"`
	GivenName           string    `json:"given_name,omitempty"`
	FamilyName          string    `json:"family_name,omitempty"`
	Picture             string    `json:"picture,omitempty"`
	Email               string    `json:"email,omitempty"`
	EmailVerified       bool      `json:"email_verified"`
	PhoneNumber         string    `json:"phone_number,omitempty"`
	PhoneNumberVerified bool      `json:"phone_number_verified"`
	Address             *Address  `json:"address,omitempty"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Store is the credential store consumed by the authorization server.
// All methods accept context.Context; implementations must honour its deadline.
type Store interface {
	// FindClient returns the client or ErrClientNotFound.
	FindClient(ctx context.Context, clientID string) (*Client, error)

	// InsertCode persists a new authorization code.
	InsertCode(ctx context.Context, code *AuthorizationCode) error

	// FindUnusedCode returns the code only if it belongs to clientID and has
	// not been used, otherwise ErrCodeNotFound.
	FindUnusedCode(ctx context.Context, code, clientID string) (*AuthorizationCode, error)

	// MarkCodeUsed flips used from false to true. It reports whether this call
	// performed the transition; a concurrent caller that lost the race gets false.
	MarkCodeUsed(ctx context.Context, id string) (bool, error)

	InsertAccessToken(ctx context.Context, token *AccessToken) error
	InsertRefreshToken(ctx context.Context, token *RefreshToken) error

	// FindAccessToken returns the token row, revoked or not, or ErrTokenNotFound.
	FindAccessToken(ctx context.Context, token string) (*AccessToken, error)

	// FindRefreshToken returns the token row, revoked or not, or ErrTokenNotFound.
	// An empty clientID matches any client.
	FindRefreshToken(ctx context.Context, token, clientID string) (*RefreshToken, error)

	// RevokeAccessToken marks the token revoked and reports whether it was live.
	RevokeAccessToken(ctx context.Context, id string) (bool, error)

	// RevokeRefreshToken marks the token revoked and reports whether it was live.
	RevokeRefreshToken(ctx context.Context, id string) (bool, error)

	// RevokeAccessTokensByRefreshToken revokes every live access token whose
	// RefreshTokenID is refreshTokenID and returns how many were revoked.
	RevokeAccessTokensByRefreshToken(ctx context.Context, refreshTokenID string) (int, error)

	// FindProfile returns the user profile or ErrProfileNotFound.
	FindProfile(ctx context.Context, userID string) (*Profile, error)
}

// AdminStore is implemented by stores that support operator tooling.
type AdminStore interface {
	SaveClient(ctx context.Context, client *Client) error
	SetClientActive(ctx context.Context, clientID string, active bool) error
	SaveProfile(ctx context.Context, profile *Profile) error
}

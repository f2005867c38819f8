package server

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IDTokenClaims is the claim set of an OpenID Connect identity token.
type IDTokenClaims struct {
	Issuer    string
	Subject   string
	Audience  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Email     string
	Name      string
}

// IDTokenSigner turns a claim set into a compact serialized token.
type IDTokenSigner interface {
	Sign(claims IDTokenClaims) (string, error)

	// Algorithm is advertised as id_token_signing_alg_values_supported
	Algorithm() string
}

// idTokenJWT is the JSON shape of the id_token payload.
type idTokenJWT struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// HMACSigner signs id_tokens with HS256.
type HMACSigner struct {
	key []byte
}

var _ IDTokenSigner = (*HMACSigner)(nil)

// NewHMACSigner returns an HS256 signer for key.
func NewHMACSigner(key []byte) *HMACSigner {
	return &HMACSigner{key: key}
}

// Sign implements IDTokenSigner.
func (h *HMACSigner) Sign(c IDTokenClaims) (string, error) {
	claims := idTokenJWT{
		Email: c.Email,
		Name:  c.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.Issuer,
			Subject:   c.Subject,
			Audience:  jwt.ClaimStrings{c.Audience},
			IssuedAt:  jwt.NewNumericDate(c.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign id_token: %w", err)
	}
	return signed, nil
}

// Algorithm implements IDTokenSigner.
func (h *HMACSigner) Algorithm() string {
	return jwt.SigningMethodHS256.Alg()
}

// ParseIDToken verifies an HS256 id_token issued by this signer and returns its claims.
func (h *HMACSigner) ParseIDToken(token string, opts ...jwt.ParserOption) (*IDTokenClaims, error) {
	var claims idTokenJWT
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return h.key, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid id_token: %w", err)
	}

	out := &IDTokenClaims{
		Issuer:  claims.Issuer,
		Subject: claims.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
	}
	if len(claims.Audience) > 0 {
		out.Audience = claims.Audience[0]
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// Package pkce implements Proof Key for Code Exchange (RFC 7636) helpers
// shared by the authorization server and the client-side token manager.
package pkce

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

const (
	MethodS256  = "S256"
	MethodPlain = "plain"

	// MaxVerifierLength is the RFC 7636 upper bound on code_verifier length
	MaxVerifierLength = 128
)

var (
	ErrVerifierRequired = errors.New("code_verifier is required when code_challenge is present")
	ErrVerifierMismatch = errors.New("code_verifier does not match code_challenge")
	ErrPlainNotAllowed  = errors.New("plain code_challenge_method is not allowed")
)

// GenerateVerifier returns 32 bytes of crypto/rand output, base64url encoded
// without padding (43 characters). It panics if the system entropy source fails.
func GenerateVerifier() string {
	return oauth2.GenerateVerifier()
}

// GenerateState returns a random opaque value suitable for the OAuth state parameter.
func GenerateState() string {
	return oauth2.GenerateVerifier()
}

// DeriveChallenge returns base64url(SHA-256(verifier)) without padding.
func DeriveChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// ValidateVerifierFormat checks the RFC 7636 character set and maximum length.
// No minimum length is enforced so that short verifiers issued by legacy clients still verify.
func ValidateVerifierFormat(verifier string) error {
	if len(verifier) > MaxVerifierLength {
		return fmt.Errorf("code_verifier must be at most %d characters", MaxVerifierLength)
	}
	for _, ch := range verifier {
		valid := (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == '~'
		if !valid {
			return fmt.Errorf("code_verifier contains invalid characters (must be [A-Za-z0-9-._~])")
		}
	}
	return nil
}

// Verify checks verifier against a stored challenge. An empty challenge means
// PKCE was not used and always verifies. An empty method is treated as plain,
// per RFC 7636 section 4.3.
func Verify(challenge, method, verifier string, allowPlain bool) error {
	if challenge == "" {
		return nil
	}
	if verifier == "" {
		return ErrVerifierRequired
	}
	if err := ValidateVerifierFormat(verifier); err != nil {
		return err
	}

	var computed string
	switch method {
	case MethodS256:
		computed = DeriveChallenge(verifier)
	case MethodPlain, "":
		if !allowPlain {
			return ErrPlainNotAllowed
		}
		computed = verifier
	default:
		return fmt.Errorf("unsupported code_challenge_method: %s", method)
	}

	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return ErrVerifierMismatch
	}
	return nil
}

// SupportedMethod reports whether method may be used at the authorization endpoint.
func SupportedMethod(method string, allowPlain bool) bool {
	return method == MethodS256 || (allowPlain && method == MethodPlain)
}

package security

import "time"

// IsExpired reports whether now is past expiresAt plus grace.
// A zero expiresAt never expires.
func IsExpired(now, expiresAt time.Time, grace time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.After(expiresAt.Add(grace))
}

// ExpiresWithin reports whether expiresAt falls within window of now.
func ExpiresWithin(now, expiresAt time.Time, window time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return !now.Add(window).Before(expiresAt)
}

package sessionstore

import "errors"

// Lifetime selects the storage area a value lives in.
type Lifetime int

const (
	// Persistent values outlive the process when the backend supports it
	Persistent Lifetime = iota

	// Attempt values are scoped to one login attempt
	Attempt
)

// String returns the bucket name for the lifetime.
func (l Lifetime) String() string {
	switch l {
	case Persistent:
		return "persistent"
	case Attempt:
		return "attempt"
	default:
		return "unknown"
	}
}

// ErrUnknownLifetime is returned for a Lifetime outside Persistent and Attempt.
var ErrUnknownLifetime = errors.New("unknown lifetime")

func validLifetime(l Lifetime) error {
	if l != Persistent && l != Attempt {
		return ErrUnknownLifetime
	}
	return nil
}

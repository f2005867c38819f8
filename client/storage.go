package client

import (
	"context"

	"github.com/SamandarAlimov/accounts-sub001/client/sessionstore"
)

// Lifetime selects the storage area a value lives in.
type Lifetime = sessionstore.Lifetime

const (
	Persistent = sessionstore.Persistent
	Attempt    = sessionstore.Attempt
)

// Storage keys used by the Manager.
const (
	KeySession      = "session"
	KeyCodeVerifier = "code_verifier"
	KeyCSRFState    = "csrf_state"
	KeyReturnURL    = "return_url"
)

var attemptKeys = []string{KeyCodeVerifier, KeyCSRFState, KeyReturnURL}

// Storage persists manager state. Get reports ok=false for a missing key.
// Implementations must be safe for concurrent use.
type Storage interface {
	Get(ctx context.Context, lifetime Lifetime, key string) (value string, ok bool, err error)
	Set(ctx context.Context, lifetime Lifetime, key, value string) error
	Delete(ctx context.Context, lifetime Lifetime, key string) error
}

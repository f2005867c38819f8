package client

import (
	"errors"
	"fmt"
)

var (
	// ErrStateMismatch means the callback state differs from the one issued by Login
	ErrStateMismatch = errors.New("state mismatch")

	// ErrStateMissing means no login attempt is pending for the callback
	ErrStateMissing = errors.New("no pending login state")

	// ErrNoSession means there is no persisted session
	ErrNoSession = errors.New("no session")

	// ErrNoRefreshToken means the session cannot be refreshed
	ErrNoRefreshToken = errors.New("session has no refresh token")

	// ErrMissingCode means the callback carried no authorization code
	ErrMissingCode = errors.New("missing authorization code")
)

// Error wraps a failure with the manager operation that produced it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("client %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func opError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

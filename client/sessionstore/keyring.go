package sessionstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// DefaultKeyringService is the keyring service name used when none is given
const DefaultKeyringService = "accounts"

// Keyring keeps persistent values in the OS keyring (Keychain, Secret Service,
// WinCred). Attempt values never leave process memory.
type Keyring struct {
	service string
	attempt *Memory
}

// NewKeyring returns a keyring store under service.
func NewKeyring(service string) *Keyring {
	if service == "" {
		service = DefaultKeyringService
	}
	return &Keyring{service: service, attempt: NewMemory()}
}

// Get returns the value for key and whether it was present.
func (k *Keyring) Get(ctx context.Context, lifetime Lifetime, key string) (string, bool, error) {
	if lifetime != Persistent {
		return k.attempt.Get(ctx, lifetime, key)
	}

	v, err := keyring.Get(k.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get %s from keyring: %w", key, err)
	}
	return v, true, nil
}

// Set stores value under key.
func (k *Keyring) Set(ctx context.Context, lifetime Lifetime, key, value string) error {
	if lifetime != Persistent {
		return k.attempt.Set(ctx, lifetime, key, value)
	}
	if err := keyring.Set(k.service, key, value); err != nil {
		return fmt.Errorf("failed to store %s in keyring: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (k *Keyring) Delete(ctx context.Context, lifetime Lifetime, key string) error {
	if lifetime != Persistent {
		return k.attempt.Delete(ctx, lifetime, key)
	}
	if err := keyring.Delete(k.service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete %s from keyring: %w", key, err)
	}
	return nil
}

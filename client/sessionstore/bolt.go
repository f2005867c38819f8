package sessionstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	bolterrors "go.etcd.io/bbolt/errors"

	"github.com/SamandarAlimov/accounts-sub001/security"
)

// DefaultBoltTimeout is how long OpenBolt waits for the file lock
const DefaultBoltTimeout = 5 * time.Second

// BoltOptions configures OpenBolt.
type BoltOptions struct {
	// EncryptionKey is a 32-byte AES-256 key. Empty stores values in the clear.
	EncryptionKey []byte

	// Timeout bounds waiting for the file lock held by another process
	Timeout time.Duration
}

// Bolt stores values in a bbolt file with one bucket per Lifetime.
type Bolt struct {
	db  *bbolt.DB
	enc *security.Encryptor
}

// OpenBolt opens or creates the session file at path. Values left in the
// attempt bucket by a previous process are discarded.
func OpenBolt(path string, opts BoltOptions) (*Bolt, error) {
	enc, err := security.NewEncryptor(opts.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultBoltTimeout
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(Attempt.String())); err != nil && !errors.Is(err, bolterrors.ErrBucketNotFound) {
			return err
		}
		for _, l := range []Lifetime{Persistent, Attempt} {
			if _, err := tx.CreateBucketIfNotExists([]byte(l.String())); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return &Bolt{db: db, enc: enc}, nil
}

// Get returns the value for key and whether it was present.
func (b *Bolt) Get(_ context.Context, lifetime Lifetime, key string) (string, bool, error) {
	if err := validLifetime(lifetime); err != nil {
		return "", false, err
	}

	var (
		sealed []byte
		found  bool
	)
	err := b.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket([]byte(lifetime.String())).Get([]byte(key)); v != nil {
			// bbolt values are only valid for the life of the transaction
			sealed, found = bytes.Clone(v), true
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s/%s: %w", lifetime, key, err)
	}
	if !found {
		return "", false, nil
	}

	plain, err := b.enc.Open(sealed)
	if err != nil {
		return "", false, fmt.Errorf("failed to decrypt %s/%s: %w", lifetime, key, err)
	}
	return string(plain), true, nil
}

// Set stores value under key.
func (b *Bolt) Set(_ context.Context, lifetime Lifetime, key, value string) error {
	if err := validLifetime(lifetime); err != nil {
		return err
	}

	sealed, err := b.enc.Seal([]byte(value))
	if err != nil {
		return fmt.Errorf("failed to encrypt %s/%s: %w", lifetime, key, err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(lifetime.String())).Put([]byte(key), sealed)
	})
}

// Delete removes key. Deleting a missing key is not an error.
func (b *Bolt) Delete(_ context.Context, lifetime Lifetime, key string) error {
	if err := validLifetime(lifetime); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(lifetime.String())).Delete([]byte(key))
	})
}

// Close releases the file lock.
func (b *Bolt) Close() error {
	return b.db.Close()
}

package valkey

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/SamandarAlimov/accounts-sub001/instrumentation"
	"github.com/SamandarAlimov/accounts-sub001/storage"
)

// ============================================================
// Clients
// ============================================================

// SaveClient inserts or replaces a client registration.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	ctx, done := s.begin(ctx, "save_client")
	defer func() { done(err) }()

	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client")
	}

	data, err := json.Marshal(client)
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	if err := s.client.Do(ctx, s.client.B().Set().Key(s.clientKey(client.ClientID)).Value(string(data)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// FindClient retrieves a client by ID.
func (s *Store) FindClient(ctx context.Context, clientID string) (_ *storage.Client, err error) {
	ctx, done := s.begin(ctx, "find_client")
	defer func() { done(err) }()
	instrumentation.SetSpanAttributes(trace.SpanFromContext(ctx), attribute.String(instrumentation.AttrClientID, clientID))

	return getJSON[storage.Client](ctx, s, s.clientKey(clientID), storage.ErrClientNotFound)
}

// SetClientActive toggles a client's active flag.
func (s *Store) SetClientActive(ctx context.Context, clientID string, active bool) (err error) {
	c, err := s.FindClient(ctx, clientID)
	if err != nil {
		return err
	}
	c.IsActive = active
	return s.SaveClient(ctx, c)
}

// ============================================================
// Profiles
// ============================================================

// SaveProfile inserts or replaces a user profile, sealing it when an encryptor is set.
func (s *Store) SaveProfile(ctx context.Context, profile *storage.Profile) (err error) {
	ctx, done := s.begin(ctx, "save_profile")
	defer func() { done(err) }()

	if profile == nil || profile.UserID == "" {
		return fmt.Errorf("invalid profile")
	}

	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	value, err := s.getEncryptor().Encrypt(string(data))
	if err != nil {
		return fmt.Errorf("failed to encrypt profile: %w", err)
	}

	if err := s.client.Do(ctx, s.client.B().Set().Key(s.profileKey(profile.UserID)).Value(value).Build()).Error(); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// FindProfile retrieves a user profile.
func (s *Store) FindProfile(ctx context.Context, userID string) (_ *storage.Profile, err error) {
	ctx, done := s.begin(ctx, "find_profile")
	defer func() { done(err) }()

	value, err := s.client.Do(ctx, s.client.B().Get().Key(s.profileKey(userID)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	data, err := s.getEncryptor().Decrypt(value)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt profile: %w", err)
	}

	var p storage.Profile
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	return &p, nil
}

// getJSON fetches a key and unmarshals it into a fresh T.
func getJSON[T any](ctx context.Context, s *Store, key string, notFoundErr error) (*T, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, notFoundErr
		}
		return nil, fmt.Errorf("failed to get data: %w", err)
	}

	var v T
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal data: %w", err)
	}
	return &v, nil
}

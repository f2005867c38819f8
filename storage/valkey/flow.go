package valkey

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/SamandarAlimov/accounts-sub001/storage"
)

// ============================================================
// Authorization codes
// ============================================================

// InsertCode stores a new authorization code. Fails with storage.ErrAlreadyExists
// if the code value is taken.
func (s *Store) InsertCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	ctx, done := s.begin(ctx, "insert_code")
	defer func() { done(err) }()

	if code == nil || code.Code == "" || code.ID == "" {
		return fmt.Errorf("authorization code and ID cannot be empty")
	}
	if len(code.Code) > MaxTokenLength {
		return fmt.Errorf("authorization code exceeds maximum length of %d bytes", MaxTokenLength)
	}

	data, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}

	return s.insertRow(ctx, s.codeKey(code.Code), s.codeIDKey(code.ID), data, code.Code, code.ExpiresAt)
}

// FindUnusedCode returns the code only if it is unused and bound to clientID.
func (s *Store) FindUnusedCode(ctx context.Context, code, clientID string) (_ *storage.AuthorizationCode, err error) {
	ctx, done := s.begin(ctx, "find_unused_code")
	defer func() { done(err) }()

	if len(code) > MaxTokenLength {
		return nil, storage.ErrCodeNotFound
	}

	c, err := getJSON[storage.AuthorizationCode](ctx, s, s.codeKey(code), storage.ErrCodeNotFound)
	if err != nil {
		return nil, err
	}
	if c.Used || c.ClientID != clientID {
		return nil, storage.ErrCodeNotFound
	}
	return c, nil
}

// MarkCodeUsed atomically flips used to true.
//
// SECURITY: This operation is atomic via Lua script - only ONE concurrent request gets true.
func (s *Store) MarkCodeUsed(ctx context.Context, id string) (_ bool, err error) {
	ctx, done := s.begin(ctx, "mark_code_used")
	defer func() { done(err) }()

	ok, err := s.setFlag(ctx, s.codeIDKey(id), s.codeKey, "used", storage.ErrCodeNotFound)
	if err != nil {
		return false, err
	}
	if ok {
		s.logger.Debug("Marked authorization code as used", "code_id", truncateForLog(id))
	}
	return ok, nil
}

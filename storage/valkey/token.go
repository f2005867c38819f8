package valkey

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/SamandarAlimov/accounts-sub001/storage"
)

// ============================================================
// Access and refresh tokens
// ============================================================

// InsertAccessToken stores a new access token and records it in its refresh lineage.
func (s *Store) InsertAccessToken(ctx context.Context, token *storage.AccessToken) (err error) {
	ctx, done := s.begin(ctx, "insert_access_token")
	defer func() { done(err) }()

	if token == nil || token.Token == "" || token.ID == "" {
		return fmt.Errorf("access token and ID cannot be empty")
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal access token: %w", err)
	}

	if err := s.insertRow(ctx, s.accessKey(token.Token), s.accessIDKey(token.ID), data, token.Token, token.ExpiresAt); err != nil {
		return err
	}

	if token.RefreshTokenID == "" {
		return nil
	}

	// Later tokens expire later, so re-arming the set TTL on every insert keeps it
	// alive for as long as any member row exists.
	lineage := s.lineageKey(token.RefreshTokenID)
	ttl := s.ttlFor(token.ExpiresAt)
	for _, resp := range s.client.DoMulti(ctx,
		s.client.B().Sadd().Key(lineage).Member(token.Token).Build(),
		s.client.B().Expire().Key(lineage).Seconds(int64(ttl.Seconds())).Build(),
	) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("failed to index access token lineage: %w", err)
		}
	}
	return nil
}

// InsertRefreshToken stores a new refresh token.
func (s *Store) InsertRefreshToken(ctx context.Context, token *storage.RefreshToken) (err error) {
	ctx, done := s.begin(ctx, "insert_refresh_token")
	defer func() { done(err) }()

	if token == nil || token.Token == "" || token.ID == "" {
		return fmt.Errorf("refresh token and ID cannot be empty")
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal refresh token: %w", err)
	}

	return s.insertRow(ctx, s.refreshKey(token.Token), s.refreshIDKey(token.ID), data, token.Token, token.ExpiresAt)
}

// FindAccessToken returns the access token row, revoked or not.
func (s *Store) FindAccessToken(ctx context.Context, token string) (_ *storage.AccessToken, err error) {
	ctx, done := s.begin(ctx, "find_access_token")
	defer func() { done(err) }()

	if len(token) > MaxTokenLength {
		return nil, storage.ErrTokenNotFound
	}
	return getJSON[storage.AccessToken](ctx, s, s.accessKey(token), storage.ErrTokenNotFound)
}

// FindRefreshToken returns the refresh token row, revoked or not. An empty
// clientID matches any client.
func (s *Store) FindRefreshToken(ctx context.Context, token, clientID string) (_ *storage.RefreshToken, err error) {
	ctx, done := s.begin(ctx, "find_refresh_token")
	defer func() { done(err) }()

	if len(token) > MaxTokenLength {
		return nil, storage.ErrTokenNotFound
	}
	rt, err := getJSON[storage.RefreshToken](ctx, s, s.refreshKey(token), storage.ErrTokenNotFound)
	if err != nil {
		return nil, err
	}
	if clientID != "" && rt.ClientID != clientID {
		return nil, storage.ErrTokenNotFound
	}
	return rt, nil
}

// RevokeAccessToken atomically marks the access token revoked.
func (s *Store) RevokeAccessToken(ctx context.Context, id string) (_ bool, err error) {
	ctx, done := s.begin(ctx, "revoke_access_token")
	defer func() { done(err) }()

	return s.setFlag(ctx, s.accessIDKey(id), s.accessKey, "revoked", storage.ErrTokenNotFound)
}

// RevokeRefreshToken atomically marks the refresh token revoked.
func (s *Store) RevokeRefreshToken(ctx context.Context, id string) (_ bool, err error) {
	ctx, done := s.begin(ctx, "revoke_refresh_token")
	defer func() { done(err) }()

	return s.setFlag(ctx, s.refreshIDKey(id), s.refreshKey, "revoked", storage.ErrTokenNotFound)
}

// RevokeAccessTokensByRefreshToken revokes every live access token in the lineage set.
// Members whose rows already expired out of Valkey are skipped.
func (s *Store) RevokeAccessTokensByRefreshToken(ctx context.Context, refreshTokenID string) (_ int, err error) {
	ctx, done := s.begin(ctx, "revoke_access_tokens_by_refresh")
	defer func() { done(err) }()

	tokens, err := s.client.Do(ctx, s.client.B().Smembers().Key(s.lineageKey(refreshTokenID)).Build()).AsStrSlice()
	if err != nil {
		if isNilError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to list token lineage: %w", err)
	}

	revoked := 0
	for _, tok := range tokens {
		ok, err := s.setFlagByKey(ctx, s.accessKey(tok), "revoked", storage.ErrTokenNotFound)
		if err != nil {
			if err == storage.ErrTokenNotFound {
				continue
			}
			return revoked, err
		}
		if ok {
			revoked++
		}
	}

	if revoked > 0 {
		s.logger.Debug("Revoked access token lineage",
			"refresh_token_id", truncateForLog(refreshTokenID),
			"count", revoked)
	}
	return revoked, nil
}

package postgres

import (
	"context"
	"fmt"

	"github.com/SamandarAlimov/accounts-sub001/storage"
)

// InsertAccessToken stores a new access token.
func (s *Store) InsertAccessToken(ctx context.Context, t *storage.AccessToken) (err error) {
	ctx, done := s.begin(ctx, "insert_access_token")
	defer func() { done(err) }()

	if t == nil || t.Token == "" || t.ID == "" {
		return fmt.Errorf("access token and ID cannot be empty")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO access_tokens (id, token, client_id, user_id, scope, refresh_token_id, revoked, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.Token, t.ClientID, t.UserID, t.Scope, t.RefreshTokenID, t.Revoked, t.CreatedAt, t.ExpiresAt)
	if err != nil {
		return insertErr(err, "access token")
	}
	return nil
}

// InsertRefreshToken stores a new refresh token.
func (s *Store) InsertRefreshToken(ctx context.Context, t *storage.RefreshToken) (err error) {
	ctx, done := s.begin(ctx, "insert_refresh_token")
	defer func() { done(err) }()

	if t == nil || t.Token == "" || t.ID == "" {
		return fmt.Errorf("refresh token and ID cannot be empty")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, token, access_token_id, client_id, user_id, scope, revoked, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.Token, t.AccessTokenID, t.ClientID, t.UserID, t.Scope, t.Revoked, t.CreatedAt, t.ExpiresAt)
	if err != nil {
		return insertErr(err, "refresh token")
	}
	return nil
}

// FindAccessToken returns the access token row, revoked or not.
func (s *Store) FindAccessToken(ctx context.Context, token string) (_ *storage.AccessToken, err error) {
	ctx, done := s.begin(ctx, "find_access_token")
	defer func() { done(err) }()

	var t storage.AccessToken
	err = s.db.QueryRowContext(ctx, `
		SELECT id, token, client_id, user_id, scope, refresh_token_id, revoked, created_at, expires_at
		FROM access_tokens WHERE token = $1`, token).
		Scan(&t.ID, &t.Token, &t.ClientID, &t.UserID, &t.Scope, &t.RefreshTokenID, &t.Revoked, &t.CreatedAt, &t.ExpiresAt)
	if err != nil {
		return nil, notFoundOr(err, storage.ErrTokenNotFound, "access token")
	}
	return &t, nil
}

// FindRefreshToken returns the refresh token row, revoked or not. An empty
// clientID matches any client.
func (s *Store) FindRefreshToken(ctx context.Context, token, clientID string) (_ *storage.RefreshToken, err error) {
	ctx, done := s.begin(ctx, "find_refresh_token")
	defer func() { done(err) }()

	var t storage.RefreshToken
	err = s.db.QueryRowContext(ctx, `
		SELECT id, token, access_token_id, client_id, user_id, scope, revoked, created_at, expires_at
		FROM refresh_tokens WHERE token = $1 AND ($2::text = '' OR client_id = $2)`, token, clientID).
		Scan(&t.ID, &t.Token, &t.AccessTokenID, &t.ClientID, &t.UserID, &t.Scope, &t.Revoked, &t.CreatedAt, &t.ExpiresAt)
	if err != nil {
		return nil, notFoundOr(err, storage.ErrTokenNotFound, "refresh token")
	}
	return &t, nil
}

// RevokeAccessToken marks the access token revoked.
func (s *Store) RevokeAccessToken(ctx context.Context, id string) (_ bool, err error) {
	ctx, done := s.begin(ctx, "revoke_access_token")
	defer func() { done(err) }()

	res, err := s.db.ExecContext(ctx, `UPDATE access_tokens SET revoked = TRUE WHERE id = $1 AND revoked = FALSE`, id)
	if err != nil {
		return false, fmt.Errorf("failed to revoke access token: %w", err)
	}
	return s.transitioned(ctx, res,
		`SELECT EXISTS (SELECT 1 FROM access_tokens WHERE id = $1)`, id, storage.ErrTokenNotFound)
}

// RevokeRefreshToken marks the refresh token revoked.
func (s *Store) RevokeRefreshToken(ctx context.Context, id string) (_ bool, err error) {
	ctx, done := s.begin(ctx, "revoke_refresh_token")
	defer func() { done(err) }()

	res, err := s.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE id = $1 AND revoked = FALSE`, id)
	if err != nil {
		return false, fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return s.transitioned(ctx, res,
		`SELECT EXISTS (SELECT 1 FROM refresh_tokens WHERE id = $1)`, id, storage.ErrTokenNotFound)
}

// RevokeAccessTokensByRefreshToken revokes every live access token in the lineage.
func (s *Store) RevokeAccessTokensByRefreshToken(ctx context.Context, refreshTokenID string) (_ int, err error) {
	ctx, done := s.begin(ctx, "revoke_access_tokens_by_refresh")
	defer func() { done(err) }()

	res, err := s.db.ExecContext(ctx,
		`UPDATE access_tokens SET revoked = TRUE WHERE refresh_token_id = $1 AND revoked = FALSE`, refreshTokenID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke access token lineage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

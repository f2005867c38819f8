package postgres

import (
	"context"
	"fmt"

	"github.com/SamandarAlimov/accounts-sub001/storage"
)

// InsertCode stores a new authorization code.
func (s *Store) InsertCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	ctx, done := s.begin(ctx, "insert_code")
	defer func() { done(err) }()

	if code == nil || code.Code == "" || code.ID == "" {
		return fmt.Errorf("authorization code and ID cannot be empty")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO authorization_codes (id, code, client_id, user_id, redirect_uri, scope, state,
			code_challenge, code_challenge_method, used, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		code.ID, code.Code, code.ClientID, code.UserID, code.RedirectURI, code.Scope, code.State,
		code.CodeChallenge, code.CodeChallengeMethod, code.Used, code.CreatedAt, code.ExpiresAt)
	if err != nil {
		return insertErr(err, "authorization code")
	}
	return nil
}

// FindUnusedCode returns the code only if it is unused and bound to clientID.
func (s *Store) FindUnusedCode(ctx context.Context, code, clientID string) (_ *storage.AuthorizationCode, err error) {
	ctx, done := s.begin(ctx, "find_unused_code")
	defer func() { done(err) }()

	var c storage.AuthorizationCode
	err = s.db.QueryRowContext(ctx, `
		SELECT id, code, client_id, user_id, redirect_uri, scope, state,
			code_challenge, code_challenge_method, used, created_at, expires_at
		FROM authorization_codes
		WHERE code = $1 AND client_id = $2 AND used = FALSE`, code, clientID).
		Scan(&c.ID, &c.Code, &c.ClientID, &c.UserID, &c.RedirectURI, &c.Scope, &c.State,
			&c.CodeChallenge, &c.CodeChallengeMethod, &c.Used, &c.CreatedAt, &c.ExpiresAt)
	if err != nil {
		return nil, notFoundOr(err, storage.ErrCodeNotFound, "authorization code")
	}
	return &c, nil
}

// MarkCodeUsed flips used to true with a conditional UPDATE. Exactly one
// concurrent caller observes an affected row.
func (s *Store) MarkCodeUsed(ctx context.Context, id string) (_ bool, err error) {
	ctx, done := s.begin(ctx, "mark_code_used")
	defer func() { done(err) }()

	res, err := s.db.ExecContext(ctx, `UPDATE authorization_codes SET used = TRUE WHERE id = $1 AND used = FALSE`, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark authorization code as used: %w", err)
	}
	return s.transitioned(ctx, res,
		`SELECT EXISTS (SELECT 1 FROM authorization_codes WHERE id = $1)`, id, storage.ErrCodeNotFound)
}

// Package storagetest holds a behavioural test suite that every storage.Store
// backend runs against itself, so memory, Valkey and PostgreSQL stay interchangeable.
package storagetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SamandarAlimov/accounts-sub001/internal/testutil"
	"github.com/SamandarAlimov/accounts-sub001/storage"
)

// Backend is the union of interfaces the suite exercises.
type Backend interface {
	storage.Store
	storage.AdminStore
}

// Run executes the suite. newStore must return an empty, isolated store.
func Run(t *testing.T, newStore func(t *testing.T) Backend) {
	t.Run("Clients", func(t *testing.T) { testClients(t, newStore(t)) })
	t.Run("Profiles", func(t *testing.T) { testProfiles(t, newStore(t)) })
	t.Run("CodeSingleUse", func(t *testing.T) { testCodeSingleUse(t, newStore(t)) })
	t.Run("CodeClientBinding", func(t *testing.T) { testCodeClientBinding(t, newStore(t)) })
	t.Run("ConcurrentMarkCodeUsed", func(t *testing.T) { testConcurrentMarkCodeUsed(t, newStore(t)) })
	t.Run("Tokens", func(t *testing.T) { testTokens(t, newStore(t)) })
	t.Run("RevokeLineage", func(t *testing.T) { testRevokeLineage(t, newStore(t)) })
	t.Run("DuplicateInsert", func(t *testing.T) { testDuplicateInsert(t, newStore(t)) })
}

func testClients(t *testing.T, s Backend) {
	ctx := context.Background()

	_, err := s.FindClient(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)

	client := testutil.GenerateTestClient(t)
	require.NoError(t, s.SaveClient(ctx, client))

	got, err := s.FindClient(ctx, client.ClientID)
	require.NoError(t, err)
	assert.Equal(t, client.ClientID, got.ClientID)
	assert.Equal(t, client.RedirectURIs, got.RedirectURIs)
	assert.Equal(t, client.AllowedScopes, got.AllowedScopes)
	assert.True(t, got.IsActive)

	require.NoError(t, s.SetClientActive(ctx, client.ClientID, false))
	got, err = s.FindClient(ctx, client.ClientID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	require.ErrorIs(t, s.SetClientActive(ctx, "missing", true), storage.ErrNotFound)
}

func testProfiles(t *testing.T, s Backend) {
	ctx := context.Background()

	_, err := s.FindProfile(ctx, testutil.TestUserID)
	require.ErrorIs(t, err, storage.ErrProfileNotFound)

	p := testutil.GenerateTestProfile()
	require.NoError(t, s.SaveProfile(ctx, p))

	got, err := s.FindProfile(ctx, p.UserID)
	require.NoError(t, err)
	assert.Equal(t, p.Email, got.Email)
	assert.Equal(t, p.Name, got.Name)
	require.NotNil(t, got.Address)
	assert.Equal(t, p.Address.Locality, got.Address.Locality)
	assert.True(t, p.UpdatedAt.Equal(got.UpdatedAt))
}

func testCodeSingleUse(t *testing.T, s Backend) {
	ctx := context.Background()
	code := testutil.GenerateTestAuthorizationCode()
	require.NoError(t, s.InsertCode(ctx, code))

	got, err := s.FindUnusedCode(ctx, code.Code, code.ClientID)
	require.NoError(t, err)
	assert.Equal(t, code.ID, got.ID)
	assert.Equal(t, code.UserID, got.UserID)
	assert.Equal(t, code.RedirectURI, got.RedirectURI)
	assert.False(t, got.Used)

	ok, err := s.MarkCodeUsed(ctx, code.ID)
	require.NoError(t, err)
	assert.True(t, ok, "first MarkCodeUsed must win")

	ok, err = s.MarkCodeUsed(ctx, code.ID)
	require.NoError(t, err)
	assert.False(t, ok, "second MarkCodeUsed must lose")

	_, err = s.FindUnusedCode(ctx, code.Code, code.ClientID)
	require.ErrorIs(t, err, storage.ErrCodeNotFound)
}

func testCodeClientBinding(t *testing.T, s Backend) {
	ctx := context.Background()
	code := testutil.GenerateTestAuthorizationCode()
	require.NoError(t, s.InsertCode(ctx, code))

	_, err := s.FindUnusedCode(ctx, code.Code, "other-client")
	require.ErrorIs(t, err, storage.ErrCodeNotFound)
}

func testConcurrentMarkCodeUsed(t *testing.T, s Backend) {
	ctx := context.Background()
	code := testutil.GenerateTestAuthorizationCode()
	require.NoError(t, s.InsertCode(ctx, code))

	const workers = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.MarkCodeUsed(ctx, code.ID)
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load(), "exactly one concurrent MarkCodeUsed must succeed")
}

func testTokens(t *testing.T, s Backend) {
	ctx := context.Background()
	at, rt := testutil.GenerateTestTokenPair()
	require.NoError(t, s.InsertRefreshToken(ctx, rt))
	require.NoError(t, s.InsertAccessToken(ctx, at))

	gotAT, err := s.FindAccessToken(ctx, at.Token)
	require.NoError(t, err)
	assert.Equal(t, at.ID, gotAT.ID)
	assert.Equal(t, rt.ID, gotAT.RefreshTokenID)
	assert.WithinDuration(t, at.ExpiresAt, gotAT.ExpiresAt, time.Second)

	gotRT, err := s.FindRefreshToken(ctx, rt.Token, rt.ClientID)
	require.NoError(t, err)
	assert.Equal(t, at.ID, gotRT.AccessTokenID)

	gotRT, err = s.FindRefreshToken(ctx, rt.Token, "")
	require.NoError(t, err, "empty client ID matches any client")
	assert.Equal(t, rt.ID, gotRT.ID)

	_, err = s.FindRefreshToken(ctx, rt.Token, "other-client")
	require.ErrorIs(t, err, storage.ErrTokenNotFound)

	_, err = s.FindAccessToken(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrTokenNotFound)

	ok, err := s.RevokeAccessToken(ctx, at.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.RevokeAccessToken(ctx, at.ID)
	require.NoError(t, err)
	assert.False(t, ok, "revocation is idempotent")

	gotAT, err = s.FindAccessToken(ctx, at.Token)
	require.NoError(t, err)
	assert.True(t, gotAT.Revoked)

	ok, err = s.RevokeRefreshToken(ctx, rt.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	gotRT, err = s.FindRefreshToken(ctx, rt.Token, rt.ClientID)
	require.NoError(t, err)
	assert.True(t, gotRT.Revoked)
}

func testRevokeLineage(t *testing.T, s Backend) {
	ctx := context.Background()
	at, rt := testutil.GenerateTestTokenPair()
	require.NoError(t, s.InsertRefreshToken(ctx, rt))
	require.NoError(t, s.InsertAccessToken(ctx, at))

	// a second access token minted by the refresh grant
	at2 := *at
	at2.ID = testutil.GenerateRandomString(16)
	at2.Token = testutil.GenerateRandomString(32)
	require.NoError(t, s.InsertAccessToken(ctx, &at2))

	// an unrelated token must survive
	other, otherRT := testutil.GenerateTestTokenPair()
	require.NoError(t, s.InsertRefreshToken(ctx, otherRT))
	require.NoError(t, s.InsertAccessToken(ctx, other))

	n, err := s.RevokeAccessTokensByRefreshToken(ctx, rt.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, tok := range []string{at.Token, at2.Token} {
		got, err := s.FindAccessToken(ctx, tok)
		require.NoError(t, err)
		assert.True(t, got.Revoked)
	}

	got, err := s.FindAccessToken(ctx, other.Token)
	require.NoError(t, err)
	assert.False(t, got.Revoked)

	n, err = s.RevokeAccessTokensByRefreshToken(ctx, rt.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func testDuplicateInsert(t *testing.T, s Backend) {
	ctx := context.Background()
	code := testutil.GenerateTestAuthorizationCode()
	require.NoError(t, s.InsertCode(ctx, code))

	dup := *code
	dup.ID = testutil.GenerateRandomString(16)
	require.ErrorIs(t, s.InsertCode(ctx, &dup), storage.ErrAlreadyExists)
}

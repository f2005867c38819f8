package testutil

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/SamandarAlimov/accounts-sub001/storage"
)

const (
	// TestClientID is the client ID used by GenerateTestClient
	TestClientID = "test-client-id"

	// TestClientSecret is the plaintext secret matching GenerateTestClient's hash
	TestClientSecret = "test-client-secret"

	// TestRedirectURI is the only redirect URI registered for the test client
	TestRedirectURI = "https://app.example.com/callback"

	// TestUserID is the subject used by GenerateTestProfile
	TestUserID = "user-123"
)

// MockTime provides a controllable time source for deterministic testing
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// GenerateRandomString returns a URL-safe random string of n bytes of entropy.
func GenerateRandomString(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// HashSecret bcrypt-hashes secret with the minimum cost to keep tests fast.
func HashSecret(t testing.TB, secret string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

// GenerateTestClient creates an active confidential client with secret TestClientSecret.
func GenerateTestClient(t testing.TB) *storage.Client {
	t.Helper()
	return &storage.Client{
		ClientID:         TestClientID,
		ClientSecretHash: HashSecret(t, TestClientSecret),
		RedirectURIs:     []string{TestRedirectURI},
		AllowedScopes:    []string{"openid", "profile", "email", "phone", "address"},
		IsActive:         true,
		CreatedAt:        time.Now(),
	}
}

// GenerateTestPublicClient creates an active public client without a secret.
func GenerateTestPublicClient(clientID string) *storage.Client {
	return &storage.Client{
		ClientID:      clientID,
		RedirectURIs:  []string{TestRedirectURI},
		AllowedScopes: []string{"openid", "profile", "email"},
		IsActive:      true,
		CreatedAt:     time.Now(),
	}
}

// GenerateTestProfile creates a fully populated profile for TestUserID.
func GenerateTestProfile() *storage.Profile {
	return &storage.Profile{
		UserID:              TestUserID,
		Name:                "Test User",
		GivenName:           "Test",
		FamilyName:          "User",
		Picture:             "https://example.com/photo.jpg",
		Email:               "test@example.com",
		EmailVerified:       true,
		PhoneNumber:         "+15555550100",
		PhoneNumberVerified: false,
		Address: &storage.Address{
			Formatted: "1 Main St, Springfield",
			Locality:  "Springfield",
			Country:   "US",
		},
		UpdatedAt: time.Unix(1700000000, 0).UTC(),
	}
}

// GenerateTestAuthorizationCode creates an unused code for the test client.
func GenerateTestAuthorizationCode() *storage.AuthorizationCode {
	now := time.Now()
	return &storage.AuthorizationCode{
		ID:          GenerateRandomString(16),
		Code:        GenerateRandomString(32),
		ClientID:    TestClientID,
		UserID:      TestUserID,
		RedirectURI: TestRedirectURI,
		Scope:       "openid profile",
		CreatedAt:   now,
		ExpiresAt:   now.Add(10 * time.Minute),
	}
}

// GenerateTestTokenPair creates a linked access/refresh token pair for the test client.
func GenerateTestTokenPair() (*storage.AccessToken, *storage.RefreshToken) {
	now := time.Now()
	at := &storage.AccessToken{
		ID:        GenerateRandomString(16),
		Token:     GenerateRandomString(32),
		ClientID:  TestClientID,
		UserID:    TestUserID,
		Scope:     "openid profile",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	rt := &storage.RefreshToken{
		ID:            GenerateRandomString(16),
		Token:         GenerateRandomString(32),
		AccessTokenID: at.ID,
		ClientID:      TestClientID,
		UserID:        TestUserID,
		Scope:         at.Scope,
		CreatedAt:     now,
		ExpiresAt:     now.Add(30 * 24 * time.Hour),
	}
	at.RefreshTokenID = rt.ID
	return at, rt
}

package server

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/SamandarAlimov/accounts-sub001/storage"
)

// dummyHash is compared against when the client does not exist, so unknown and
// known clients take the same bcrypt time.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// authenticateClient resolves an active client and checks its secret.
// A supplied secret must match. When requireSecret is set, confidential
// clients must supply one.
func (s *Server) authenticateClient(ctx context.Context, clientID, secret, ip string, requireSecret bool) (*storage.Client, error) {
	client, err := bounded(ctx, s, func(ctx context.Context) (*storage.Client, error) {
		return s.store.FindClient(ctx, clientID)
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			if secret != "" {
				_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(secret))
			}
			s.auditor.LogAuthFailure("", clientID, ip, "unknown_client")
			return nil, ErrInvalidClient("client authentication failed")
		}
		return nil, s.storeFailure(ctx, "find_client", err)
	}

	if !client.IsActive {
		s.auditor.LogAuthFailure("", clientID, ip, "inactive_client")
		return nil, ErrInvalidClient("client authentication failed")
	}

	if secret != "" {
		hash := client.ClientSecretHash
		if hash == "" {
			hash = dummyHash
		}
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) != nil || client.ClientSecretHash == "" {
			s.auditor.LogAuthFailure("", clientID, ip, "invalid_client_secret")
			return nil, ErrInvalidClient("client authentication failed")
		}
		return client, nil
	}

	if requireSecret && client.IsConfidential() {
		s.auditor.LogAuthFailure("", clientID, ip, "missing_client_secret")
		return nil, ErrInvalidClient("client authentication failed")
	}
	return client, nil
}

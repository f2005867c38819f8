// Package security provides the security plumbing around the authorization
// server: audit logging with hashed identifiers, per-client rate limiting,
// AES-256-GCM sealing for credentials at rest, response security headers,
// request IDs and clock-skew aware expiry checks.
//
// # Rate Limiting
//
// RateLimiter keeps one token bucket per identifier and evicts the least
// recently used entry once MaxEntries is reached, so memory stays bounded
// when many distinct clients hit the token endpoint.
//
//	limiter := security.NewRateLimiter(10, 20, logger)
//	defer limiter.Stop()
//
//	if !limiter.Allow(clientID) {
//	    // respond 429
//	}
package security

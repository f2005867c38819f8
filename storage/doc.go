// Package storage defines the credential store used by the authorization server.
//
// The store holds client registrations, authorization codes, access tokens,
// refresh tokens and user profiles. Every cross-request invariant of the
// server (single-use codes, idempotent revocation) is enforced here through
// conditional updates, so implementations must make MarkCodeUsed and the
// Revoke* methods atomic with respect to concurrent callers.
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage for development and testing
//   - storage/valkey: Valkey/Redis-compatible distributed storage
//   - storage/postgres: PostgreSQL storage via lib/pq
package storage

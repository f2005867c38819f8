// Package sessionstore provides storage backends for the client token manager.
//
// Values are kept per Lifetime. Persistent values (the token session) survive
// restarts where the backend allows it; Attempt values (PKCE verifier, CSRF
// state, return URL) belong to a single login attempt and are cleared when it
// ends.
//
// Three backends are available:
//   - Memory: process-local maps, mainly for tests and short-lived tools
//   - Bolt: a bbolt file, optionally sealed with AES-256-GCM
//   - Keyring: the OS keyring for persistent values, memory for attempt values
package sessionstore

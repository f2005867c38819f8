// Package server implements the core OAuth 2.0 / OpenID Connect authorization
// server logic for the authorization code and refresh token grants.
//
// The Server type is transport-agnostic: it accepts plain request structs and
// returns response structs or *OAuthError values. The root oauth package maps
// these onto HTTP.
//
// All state lives behind a storage.Store. Every store call is bounded by
// Config.StoreTimeout; a timeout or unexpected store failure surfaces as
// server_error and is never retried internally. Single-use codes and
// idempotent revocation rely on the store's compare-and-set operations, so
// the server holds no locks of its own.
//
// Example usage:
//
//	store := memory.New()
//	srv, err := server.New(store, &server.Config{
//	    Issuer: "https://accounts.example.com",
//	}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	resp, err := srv.Authorize(ctx, &server.AuthorizeRequest{...})
package server

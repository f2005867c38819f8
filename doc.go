// Package oauth exposes the accounts authorization server over HTTP.
//
// The core flows live in the server package; this package parses requests,
// maps *OAuthError values onto RFC 6749 error responses and registers the
// endpoints on a chi router:
//
//	GET|POST /oauth/authorize
//	POST     /oauth/token
//	POST     /oauth/revoke
//	GET|POST /oauth/userinfo
//	GET      /.well-known/openid-configuration
//	GET      /.well-known/oauth-authorization-server
//
// Example usage:
//
//	store := memory.New()
//	handler, err := oauth.NewServer(store, &oauth.Config{
//	    Server: server.Config{Issuer: "https://accounts.example.com"},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer handler.Close()
//
//	http.ListenAndServe(":8080", handler.Routes())
package oauth

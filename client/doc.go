// Package client is the relying-party side of the authorization code flow.
//
// A Manager drives login (state + PKCE), handles the callback, persists the
// resulting session and keeps it fresh with a scheduled refresh:
//
//	m, err := client.NewManager(ctx, client.Config{
//		ClientID:    "my-app",
//		AuthURL:     "https://accounts.example.com/oauth/authorize",
//		TokenURL:    "https://accounts.example.com/oauth/token",
//		RedirectURL: "https://app.example.com/callback",
//		Scopes:      []string{"openid", "profile"},
//	})
//	authURL, err := m.Login(ctx, client.LoginOptions{ReturnURL: "/dashboard"})
//	// ... user agent comes back to the redirect URL ...
//	returnURL, err := m.HandleCallback(ctx, code, state)
//	token, ok := m.GetAccessToken(ctx)
//
// Session storage is pluggable through Storage; see package sessionstore.
package client

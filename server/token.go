package server

import (
	"context"
	"errors"
	"slices"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"github.com/SamandarAlimov/accounts-sub001/instrumentation"
	"github.com/SamandarAlimov/accounts-sub001/internal/util"
	"github.com/SamandarAlimov/accounts-sub001/notify"
	"github.com/SamandarAlimov/accounts-sub001/pkce"
	"github.com/SamandarAlimov/accounts-sub001/security"
	"github.com/SamandarAlimov/accounts-sub001/storage"
)

// Grant types
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"

	// TokenTypeBearer is the only token type issued
	TokenTypeBearer = "Bearer"
)

// TokenRequest is a token endpoint request for either supported grant.
type TokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code,omitempty"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
	CodeVerifier string `json:"code_verifier,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`

	// RemoteAddr is recorded in audit events only
	RemoteAddr string `json:"-"`
}

// TokenResponse is the successful token endpoint response (RFC 6749 section 5.1).
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Token dispatches on grant_type.
func (s *Server) Token(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	switch req.GrantType {
	case GrantTypeAuthorizationCode:
		return s.ExchangeAuthorizationCode(ctx, req)
	case GrantTypeRefreshToken:
		return s.RefreshAccessToken(ctx, req)
	case "":
		return nil, ErrInvalidRequest("grant_type is required")
	default:
		return nil, ErrUnsupportedGrantType("grant_type " + strconv.Quote(req.GrantType) + " is not supported")
	}
}

// ExchangeAuthorizationCode redeems a single-use authorization code.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, req *TokenRequest) (_ *TokenResponse, err error) {
	ctx, span := s.startSpan(ctx, "exchange_authorization_code")
	defer func() { s.endSpan(span, err) }()
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrGrantType, GrantTypeAuthorizationCode))

	if req.Code == "" {
		return nil, ErrInvalidRequest("code is required")
	}
	if req.ClientID == "" {
		return nil, ErrInvalidRequest("client_id is required")
	}

	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret, req.RemoteAddr, true)
	if err != nil {
		return nil, err
	}

	code, err := bounded(ctx, s, func(ctx context.Context) (*storage.AuthorizationCode, error) {
		return s.store.FindUnusedCode(ctx, req.Code, client.ClientID)
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.auditor.LogInvalidGrant("", client.ClientID, req.RemoteAddr, "unknown_or_used_code")
			return nil, ErrInvalidGrant("invalid authorization code")
		}
		return nil, s.storeFailure(ctx, "find_unused_code", err)
	}

	if security.IsExpired(s.now(), code.ExpiresAt, s.Config.ClockSkewGracePeriod) {
		s.auditor.LogInvalidGrant(code.UserID, client.ClientID, req.RemoteAddr, "code_expired")
		return nil, ErrInvalidGrant("authorization code expired")
	}

	if code.RedirectURI != req.RedirectURI {
		s.auditor.LogInvalidGrant(code.UserID, client.ClientID, req.RemoteAddr, "redirect_uri_mismatch")
		return nil, ErrInvalidGrant("redirect_uri mismatch")
	}

	if code.CodeChallenge != "" {
		if err := pkce.Verify(code.CodeChallenge, code.CodeChallengeMethod, req.CodeVerifier, s.Config.AllowPKCEPlain); err != nil {
			s.metrics.RecordPKCEValidationFailed(ctx, code.CodeChallengeMethod)
			s.auditor.LogEvent(security.Event{
				Type:      security.EventPKCEFailed,
				UserID:    code.UserID,
				ClientID:  client.ClientID,
				IPAddress: req.RemoteAddr,
				Details:   map[string]any{"method": code.CodeChallengeMethod, "reason": err.Error()},
			})
			if errors.Is(err, pkce.ErrVerifierRequired) {
				return nil, ErrInvalidGrant("code_verifier is required")
			}
			return nil, ErrInvalidGrant("invalid code verifier")
		}
	} else if req.CodeVerifier != "" {
		// a verifier without a recorded challenge signals a downgrade attempt
		return nil, ErrInvalidGrant("code_verifier supplied but no code_challenge was recorded")
	}

	won, err := bounded(ctx, s, func(ctx context.Context) (bool, error) {
		return s.store.MarkCodeUsed(ctx, code.ID)
	})
	if err != nil {
		return nil, s.storeFailure(ctx, "mark_code_used", err)
	}
	if !won {
		s.metrics.RecordCodeReuseDetected(ctx)
		s.auditor.LogEvent(security.Event{
			Type:      security.EventCodeReuseDetected,
			UserID:    code.UserID,
			ClientID:  client.ClientID,
			IPAddress: req.RemoteAddr,
		})
		s.Logger.Warn("Authorization code reuse detected",
			"client_id", client.ClientID,
			"code_prefix", util.SafeTruncate(code.Code, tokenLogLength))
		return nil, ErrInvalidGrant("authorization code already used")
	}

	at, rt, err := s.issueTokenPair(ctx, client.ClientID, code.UserID, code.Scope)
	if err != nil {
		return nil, err
	}

	resp := &TokenResponse{
		AccessToken:  at.Token,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    int64(s.Config.AccessTokenTTL.Seconds()),
		RefreshToken: rt.Token,
		Scope:        code.Scope,
	}

	if util.HasScope(code.Scope, "openid") {
		idToken, err := s.mintIDToken(ctx, client.ClientID, code.UserID)
		if err != nil {
			return nil, err
		}
		resp.IDToken = idToken
	}

	instrumentation.AddOAuthFlowAttributes(span, client.ClientID, code.UserID, code.Scope)
	s.metrics.RecordCodeExchange(ctx, client.ClientID, code.CodeChallengeMethod)
	s.auditor.LogTokenIssued(code.UserID, client.ClientID, req.RemoteAddr, code.Scope, resp.IDToken != "")
	s.emit(notify.KindTokenIssued, client.ClientID, code.UserID, code.Scope,
		map[string]string{"grant_type": GrantTypeAuthorizationCode})

	s.Logger.Info("Exchanged authorization code",
		"client_id", client.ClientID,
		"scope", code.Scope,
		"id_token", resp.IDToken != "")

	return resp, nil
}

// RefreshAccessToken mints a new access token from a refresh token. Without
// rotation the presented refresh token is returned unchanged.
func (s *Server) RefreshAccessToken(ctx context.Context, req *TokenRequest) (_ *TokenResponse, err error) {
	ctx, span := s.startSpan(ctx, "refresh_access_token")
	defer func() { s.endSpan(span, err) }()
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrGrantType, GrantTypeRefreshToken))

	if req.RefreshToken == "" {
		return nil, ErrInvalidRequest("refresh_token is required")
	}
	if req.ClientID == "" {
		return nil, ErrInvalidRequest("client_id is required")
	}

	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret, req.RemoteAddr, true)
	if err != nil {
		return nil, err
	}

	rt, err := bounded(ctx, s, func(ctx context.Context) (*storage.RefreshToken, error) {
		return s.store.FindRefreshToken(ctx, req.RefreshToken, client.ClientID)
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.auditor.LogInvalidGrant("", client.ClientID, req.RemoteAddr, "unknown_refresh_token")
			return nil, ErrInvalidGrant("invalid refresh token")
		}
		return nil, s.storeFailure(ctx, "find_refresh_token", err)
	}
	if rt.Revoked {
		s.auditor.LogInvalidGrant(rt.UserID, client.ClientID, req.RemoteAddr, "revoked_refresh_token")
		return nil, ErrInvalidGrant("invalid refresh token")
	}
	if security.IsExpired(s.now(), rt.ExpiresAt, s.Config.ClockSkewGracePeriod) {
		s.auditor.LogInvalidGrant(rt.UserID, client.ClientID, req.RemoteAddr, "refresh_token_expired")
		return nil, ErrInvalidGrant("refresh token expired")
	}

	scope := rt.Scope
	if req.Scope != "" {
		granted := util.ParseScope(rt.Scope)
		requested := util.ParseScope(req.Scope)
		for _, sc := range requested {
			if !slices.Contains(granted, sc) {
				return nil, ErrInvalidScope("scope exceeds the original grant: " + sc)
			}
		}
		scope = util.JoinScope(requested)
	}

	resp := &TokenResponse{
		TokenType: TokenTypeBearer,
		ExpiresIn: int64(s.Config.AccessTokenTTL.Seconds()),
		Scope:     scope,
	}

	if s.Config.RefreshTokenRotation {
		// The compare-and-set decides between concurrent refreshes of the same token.
		won, err := bounded(ctx, s, func(ctx context.Context) (bool, error) {
			return s.store.RevokeRefreshToken(ctx, rt.ID)
		})
		if err != nil {
			return nil, s.storeFailure(ctx, "revoke_refresh_token", err)
		}
		if !won {
			s.auditor.LogInvalidGrant(rt.UserID, client.ClientID, req.RemoteAddr, "refresh_token_reuse")
			return nil, ErrInvalidGrant("invalid refresh token")
		}
		if _, err := bounded(ctx, s, func(ctx context.Context) (int, error) {
			return s.store.RevokeAccessTokensByRefreshToken(ctx, rt.ID)
		}); err != nil {
			return nil, s.storeFailure(ctx, "revoke_access_tokens_by_refresh", err)
		}

		at, newRT, err := s.issueTokenPair(ctx, client.ClientID, rt.UserID, scope)
		if err != nil {
			return nil, err
		}
		resp.AccessToken, resp.RefreshToken = at.Token, newRT.Token
	} else {
		at, err := s.issueAccessToken(ctx, client.ClientID, rt.UserID, scope, rt.ID)
		if err != nil {
			return nil, err
		}
		resp.AccessToken, resp.RefreshToken = at.Token, rt.Token
	}

	rotated := s.Config.RefreshTokenRotation
	instrumentation.AddOAuthFlowAttributes(span, client.ClientID, rt.UserID, scope)
	instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrRotated, rotated))
	s.metrics.RecordTokenRefresh(ctx, client.ClientID, rotated)
	s.auditor.LogTokenRefreshed(rt.UserID, client.ClientID, req.RemoteAddr, rotated)
	s.emit(notify.KindTokenRefreshed, client.ClientID, rt.UserID, scope,
		map[string]string{"rotated": strconv.FormatBool(rotated)})

	s.Logger.Info("Refreshed access token",
		"client_id", client.ClientID,
		"rotated", rotated)

	return resp, nil
}

// issueTokenPair inserts a cross-linked refresh and access token. The refresh
// token goes in first so an access token never references a missing row.
func (s *Server) issueTokenPair(ctx context.Context, clientID, userID, scope string) (*storage.AccessToken, *storage.RefreshToken, error) {
	now := s.now()
	accessID, refreshID := newID(), newID()

	rt := &storage.RefreshToken{
		ID:            refreshID,
		Token:         generateToken(),
		AccessTokenID: accessID,
		ClientID:      clientID,
		UserID:        userID,
		Scope:         scope,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.Config.RefreshTokenTTL),
	}
	if _, err := bounded(ctx, s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.InsertRefreshToken(ctx, rt)
	}); err != nil {
		return nil, nil, s.storeFailure(ctx, "insert_refresh_token", err)
	}

	at := &storage.AccessToken{
		ID:             accessID,
		Token:          generateToken(),
		ClientID:       clientID,
		UserID:         userID,
		Scope:          scope,
		RefreshTokenID: refreshID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.Config.AccessTokenTTL),
	}
	if _, err := bounded(ctx, s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.InsertAccessToken(ctx, at)
	}); err != nil {
		return nil, nil, s.storeFailure(ctx, "insert_access_token", err)
	}
	return at, rt, nil
}

// issueAccessToken inserts a standalone access token in refreshID's lineage.
func (s *Server) issueAccessToken(ctx context.Context, clientID, userID, scope, refreshID string) (*storage.AccessToken, error) {
	now := s.now()
	at := &storage.AccessToken{
		ID:             newID(),
		Token:          generateToken(),
		ClientID:       clientID,
		UserID:         userID,
		Scope:          scope,
		RefreshTokenID: refreshID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.Config.AccessTokenTTL),
	}
	if _, err := bounded(ctx, s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.InsertAccessToken(ctx, at)
	}); err != nil {
		return nil, s.storeFailure(ctx, "insert_access_token", err)
	}
	return at, nil
}

// mintIDToken signs {iss, sub, aud, iat, exp=iat+1h, email, name}. A missing
// profile yields a token without email and name.
func (s *Server) mintIDToken(ctx context.Context, clientID, userID string) (string, error) {
	claims := IDTokenClaims{
		Issuer:   s.Config.Issuer,
		Subject:  userID,
		Audience: clientID,
		IssuedAt: s.now(),
	}
	claims.ExpiresAt = claims.IssuedAt.Add(IDTokenTTL)

	profile, err := bounded(ctx, s, func(ctx context.Context) (*storage.Profile, error) {
		return s.store.FindProfile(ctx, userID)
	})
	switch {
	case err == nil:
		claims.Email = profile.Email
		claims.Name = profile.Name
	case errors.Is(err, storage.ErrNotFound):
	default:
		return "", s.storeFailure(ctx, "find_profile", err)
	}

	token, err := s.signer.Sign(claims)
	if err != nil {
		s.Logger.Error("Failed to sign id_token", "error", err)
		return "", ErrServerError("failed to issue id_token")
	}
	return token, nil
}

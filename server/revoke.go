package server

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/SamandarAlimov/accounts-sub001/instrumentation"
	"github.com/SamandarAlimov/accounts-sub001/internal/util"
	"github.com/SamandarAlimov/accounts-sub001/notify"
	"github.com/SamandarAlimov/accounts-sub001/security"
	"github.com/SamandarAlimov/accounts-sub001/storage"
)

// Token type hints (RFC 7009 section 2.1)
const (
	TokenTypeHintAccessToken  = "access_token"  //nolint:gosec // hint name
	TokenTypeHintRefreshToken = "refresh_token" //nolint:gosec // hint name
)

// RevokeRequest is an RFC 7009 revocation request.
type RevokeRequest struct {
	Token         string `json:"token"`
	TokenTypeHint string `json:"token_type_hint,omitempty"`
	ClientID      string `json:"client_id,omitempty"`
	ClientSecret  string `json:"client_secret,omitempty"`

	RemoteAddr string `json:"-"`
}

// RevokeResponse is returned for every accepted revocation request,
// whether or not a token matched.
type RevokeResponse struct {
	Success bool `json:"success"`
}

// RevokeToken revokes an access or refresh token and every token in its
// lineage. Only malformed requests and failed client authentication return
// an error; unknown tokens and store failures during lookup still succeed.
func (s *Server) RevokeToken(ctx context.Context, req *RevokeRequest) (_ *RevokeResponse, err error) {
	ctx, span := s.startSpan(ctx, "revoke_token")
	defer func() { s.endSpan(span, err) }()

	if req.Token == "" {
		return nil, ErrInvalidRequest("token is required")
	}

	if req.ClientID != "" {
		if _, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret, req.RemoteAddr, false); err != nil {
			return nil, err
		}
	}

	hint := strings.ToLower(strings.TrimSpace(req.TokenTypeHint))
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrTokenHint, hint))

	lookups := []func(context.Context, *RevokeRequest) (*revocation, bool){s.revokeAccess, s.revokeRefresh}
	if hint == TokenTypeHintRefreshToken {
		lookups[0], lookups[1] = lookups[1], lookups[0]
	}

	var result *revocation
	for _, lookup := range lookups {
		if r, ok := lookup(ctx, req); ok {
			result = r
			break
		}
	}

	logger := security.LoggerFromContext(ctx, s.Logger)
	if result == nil {
		s.metrics.RecordTokenRevocation(ctx, req.ClientID, false)
		logger.Debug("Revocation matched no token",
			"client_id", req.ClientID,
			"token_prefix", util.SafeTruncate(req.Token, tokenLogLength))
		return &RevokeResponse{Success: true}, nil
	}

	s.metrics.RecordTokenRevocation(ctx, result.clientID, true)
	s.auditor.LogTokenRevoked(result.userID, result.clientID, req.RemoteAddr, result.tokenType, result.cascaded)
	s.emit(notify.KindTokenRevoked, result.clientID, result.userID, "", map[string]string{
		"token_type": result.tokenType,
		"cascaded":   strconv.Itoa(result.cascaded),
	})
	logger.Info("Revoked token",
		"client_id", result.clientID,
		"token_type", result.tokenType,
		"cascaded", result.cascaded)

	return &RevokeResponse{Success: true}, nil
}

type revocation struct {
	tokenType string
	clientID  string
	userID    string
	cascaded  int
}

// revokeAccess revokes a matching access token, its refresh token and the
// rest of the lineage.
func (s *Server) revokeAccess(ctx context.Context, req *RevokeRequest) (*revocation, bool) {
	at, err := bounded(ctx, s, func(ctx context.Context) (*storage.AccessToken, error) {
		return s.store.FindAccessToken(ctx, req.Token)
	})
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.storeFailure(ctx, "find_access_token", err)
		}
		return nil, false
	}
	if req.ClientID != "" && at.ClientID != req.ClientID {
		return nil, false
	}

	r := &revocation{tokenType: TokenTypeHintAccessToken, clientID: at.ClientID, userID: at.UserID}
	s.revokeStep(ctx, "revoke_access_token", func(ctx context.Context) (bool, error) {
		return s.store.RevokeAccessToken(ctx, at.ID)
	})
	if at.RefreshTokenID != "" {
		if s.revokeStep(ctx, "revoke_refresh_token", func(ctx context.Context) (bool, error) {
			return s.store.RevokeRefreshToken(ctx, at.RefreshTokenID)
		}) {
			r.cascaded++
		}
		r.cascaded += s.revokeLineage(ctx, at.RefreshTokenID)
	}
	return r, true
}

// revokeRefresh revokes a matching refresh token and every access token minted from it.
func (s *Server) revokeRefresh(ctx context.Context, req *RevokeRequest) (*revocation, bool) {
	rt, err := bounded(ctx, s, func(ctx context.Context) (*storage.RefreshToken, error) {
		return s.store.FindRefreshToken(ctx, req.Token, req.ClientID)
	})
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.storeFailure(ctx, "find_refresh_token", err)
		}
		return nil, false
	}

	r := &revocation{tokenType: TokenTypeHintRefreshToken, clientID: rt.ClientID, userID: rt.UserID}
	s.revokeStep(ctx, "revoke_refresh_token", func(ctx context.Context) (bool, error) {
		return s.store.RevokeRefreshToken(ctx, rt.ID)
	})
	r.cascaded += s.revokeLineage(ctx, rt.ID)
	if rt.AccessTokenID != "" && s.revokeStep(ctx, "revoke_access_token", func(ctx context.Context) (bool, error) {
		return s.store.RevokeAccessToken(ctx, rt.AccessTokenID)
	}) {
		r.cascaded++
	}
	return r, true
}

func (s *Server) revokeLineage(ctx context.Context, refreshTokenID string) int {
	n, err := bounded(ctx, s, func(ctx context.Context) (int, error) {
		return s.store.RevokeAccessTokensByRefreshToken(ctx, refreshTokenID)
	})
	if err != nil {
		s.storeFailure(ctx, "revoke_access_tokens_by_refresh", err)
		return 0
	}
	return n
}

// revokeStep runs one revoke call and reports whether it flipped a live row.
// Missing rows are expected during a cascade and are not logged.
func (s *Server) revokeStep(ctx context.Context, op string, fn func(context.Context) (bool, error)) bool {
	ok, err := bounded(ctx, s, fn)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.storeFailure(ctx, op, err)
		}
		return false
	}
	return ok
}

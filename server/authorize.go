package server

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/SamandarAlimov/accounts-sub001/instrumentation"
	"github.com/SamandarAlimov/accounts-sub001/internal/util"
	"github.com/SamandarAlimov/accounts-sub001/notify"
	"github.com/SamandarAlimov/accounts-sub001/pkce"
	"github.com/SamandarAlimov/accounts-sub001/storage"
)

// DefaultScope is used when an authorization request carries no scope
const DefaultScope = "openid"

// AuthorizeRequest is a validated-by-Authorize authorization request. UserID
// is the principal already authenticated by the identity collaborator.
type AuthorizeRequest struct {
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	Scope               string `json:"scope,omitempty"`
	State               string `json:"state,omitempty"`
	ResponseType        string `json:"response_type,omitempty"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
	UserID              string `json:"user_id"`

	// RemoteAddr is recorded in audit events only
	RemoteAddr string `json:"-"`
}

// AuthorizeResponse carries the minted code back to the relying party.
type AuthorizeResponse struct {
	Code        string `json:"code"`
	State       string `json:"state,omitempty"`
	RedirectURI string `json:"redirect_uri"`
}

// Authorize validates an authorization request and mints a single-use code.
//
// Checks run in order and the first failure wins: required parameters,
// client, redirect URI, scope, then response type and PKCE parameters.
func (s *Server) Authorize(ctx context.Context, req *AuthorizeRequest) (_ *AuthorizeResponse, err error) {
	ctx, span := s.startSpan(ctx, "authorize")
	defer func() { s.endSpan(span, err) }()

	switch {
	case req.ClientID == "":
		return nil, ErrInvalidRequest("client_id is required")
	case req.RedirectURI == "":
		return nil, ErrInvalidRequest("redirect_uri is required")
	case req.UserID == "":
		return nil, ErrInvalidRequest("user_id is required")
	}

	client, err := bounded(ctx, s, func(ctx context.Context) (*storage.Client, error) {
		return s.store.FindClient(ctx, req.ClientID)
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.auditor.LogAuthFailure(req.UserID, req.ClientID, req.RemoteAddr, "unknown_client")
			return nil, ErrInvalidClient("unknown client")
		}
		return nil, s.storeFailure(ctx, "find_client", err)
	}
	if !client.IsActive {
		s.auditor.LogAuthFailure(req.UserID, req.ClientID, req.RemoteAddr, "inactive_client")
		return nil, ErrInvalidClient("client is not active")
	}

	if !client.HasRedirectURI(req.RedirectURI) {
		s.auditor.LogAuthFailure(req.UserID, req.ClientID, req.RemoteAddr, "redirect_uri_not_registered")
		return nil, ErrInvalidRequest("redirect_uri is not registered for this client")
	}

	scope := req.Scope
	if strings.TrimSpace(scope) == "" {
		scope = DefaultScope
	}
	scopes := util.ParseScope(scope)
	if bad := s.disallowedScopes(client, scopes); len(bad) > 0 {
		return nil, ErrInvalidScope("scope not allowed: " + strings.Join(bad, ", "))
	}

	if req.ResponseType != "" && req.ResponseType != "code" {
		return nil, ErrInvalidRequest("response_type must be 'code'")
	}

	method := req.CodeChallengeMethod
	switch {
	case req.CodeChallenge == "" && method != "":
		return nil, ErrInvalidRequest("code_challenge_method given without code_challenge")
	case req.CodeChallenge == "" && s.Config.RequirePKCE:
		s.auditor.LogAuthFailure(req.UserID, req.ClientID, req.RemoteAddr, "missing_pkce_parameters")
		return nil, ErrInvalidRequest("code_challenge is required")
	case req.CodeChallenge != "":
		if method == "" {
			// RFC 7636 defaults an absent method to plain
			method = pkce.MethodPlain
			if !s.Config.AllowPKCEPlain {
				return nil, ErrInvalidRequest("code_challenge_method S256 is required")
			}
		}
		if !pkce.SupportedMethod(method, s.Config.AllowPKCEPlain) {
			return nil, ErrInvalidRequest("unsupported code_challenge_method: " + method)
		}
		if err := pkce.ValidateVerifierFormat(req.CodeChallenge); err != nil {
			return nil, ErrInvalidRequest("malformed code_challenge")
		}
	}

	now := s.now()
	code := &storage.AuthorizationCode{
		ID:                  newID(),
		Code:                generateToken(),
		ClientID:            client.ClientID,
		UserID:              req.UserID,
		RedirectURI:         req.RedirectURI,
		Scope:               util.JoinScope(scopes),
		State:               req.State,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: method,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.Config.AuthorizationCodeTTL),
	}

	if _, err := bounded(ctx, s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.InsertCode(ctx, code)
	}); err != nil {
		return nil, s.storeFailure(ctx, "insert_code", err)
	}

	usesPKCE := code.CodeChallenge != ""
	instrumentation.AddOAuthFlowAttributes(span, code.ClientID, code.UserID, code.Scope)
	s.metrics.RecordCodeIssued(ctx, code.ClientID, usesPKCE)
	s.auditor.LogCodeIssued(code.UserID, code.ClientID, req.RemoteAddr, code.Scope, usesPKCE)
	s.emit(notify.KindCodeIssued, code.ClientID, code.UserID, code.Scope, nil)

	s.Logger.Debug("Issued authorization code",
		"client_id", code.ClientID,
		"scope", code.Scope,
		"pkce", usesPKCE,
		"code_prefix", util.SafeTruncate(code.Code, tokenLogLength))

	return &AuthorizeResponse{
		Code:        code.Code,
		State:       req.State,
		RedirectURI: req.RedirectURI,
	}, nil
}

// disallowedScopes returns requested scopes the client may not request or the
// server does not support, in request order.
func (s *Server) disallowedScopes(client *storage.Client, requested []string) []string {
	bad := client.DisallowedScopes(requested)
	if len(s.Config.SupportedScopes) == 0 {
		return bad
	}
	for _, sc := range requested {
		if !slices.Contains(s.Config.SupportedScopes, sc) && !slices.Contains(bad, sc) {
			bad = append(bad, sc)
		}
	}
	return bad
}

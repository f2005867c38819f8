package server

import (
	"context"
	"errors"

	"github.com/SamandarAlimov/accounts-sub001/internal/util"
	"github.com/SamandarAlimov/accounts-sub001/security"
	"github.com/SamandarAlimov/accounts-sub001/storage"
)

// UserInfo returns the OIDC claims visible to the bearer of accessToken.
// The result always has "sub"; other claims depend on the token's scope
// and are omitted when empty.
func (s *Server) UserInfo(ctx context.Context, accessToken string) (_ map[string]any, err error) {
	ctx, span := s.startSpan(ctx, "userinfo")
	defer func() { s.endSpan(span, err) }()

	if accessToken == "" {
		return nil, ErrInvalidToken("access token is required")
	}

	at, err := bounded(ctx, s, func(ctx context.Context) (*storage.AccessToken, error) {
		return s.store.FindAccessToken(ctx, accessToken)
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.auditor.LogEvent(security.Event{Type: security.EventInvalidTokenPresent})
			return nil, ErrInvalidToken("invalid access token")
		}
		return nil, s.storeFailure(ctx, "find_access_token", err)
	}
	if at.Revoked {
		s.auditor.LogEvent(security.Event{Type: security.EventInvalidTokenPresent, UserID: at.UserID, ClientID: at.ClientID})
		return nil, ErrInvalidToken("access token revoked")
	}
	if security.IsExpired(s.now(), at.ExpiresAt, s.Config.ClockSkewGracePeriod) {
		return nil, ErrInvalidToken("access token expired")
	}

	claims := map[string]any{"sub": at.UserID}

	profile, err := bounded(ctx, s, func(ctx context.Context) (*storage.Profile, error) {
		return s.store.FindProfile(ctx, at.UserID)
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return claims, nil
		}
		return nil, s.storeFailure(ctx, "find_profile", err)
	}

	projectClaims(claims, profile, util.ParseScope(at.Scope))
	return claims, nil
}

func projectClaims(claims map[string]any, p *storage.Profile, scopes []string) {
	setString := func(name, v string) {
		if v != "" {
			claims[name] = v
		}
	}

	for _, scope := range scopes {
		switch scope {
		case "profile":
			setString("name", p.Name)
			setString("given_name", p.GivenName)
			setString("family_name", p.FamilyName)
			setString("picture", p.Picture)
			if !p.UpdatedAt.IsZero() {
				claims["updated_at"] = p.UpdatedAt.Unix()
			}
		case "email":
			if p.Email != "" {
				claims["email"] = p.Email
				claims["email_verified"] = p.EmailVerified
			}
		case "phone":
			if p.PhoneNumber != "" {
				claims["phone_number"] = p.PhoneNumber
				claims["phone_number_verified"] = p.PhoneNumberVerified
			}
		case "address":
			if p.Address != nil {
				claims["address"] = p.Address
			}
		}
	}
}

package client

import (
	"time"

	"golang.org/x/oauth2"

	"github.com/SamandarAlimov/accounts-sub001/security"
)

// Session is the persisted token set.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`

	// ExpiresAt is the access token expiry in epoch milliseconds. Zero means unknown.
	ExpiresAt int64  `json:"expires_at"`
	Scope     string `json:"scope,omitempty"`
}

// Expiry returns ExpiresAt as a time. The zero time means unknown.
func (s *Session) Expiry() time.Time {
	if s.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.ExpiresAt)
}

// ValidFor reports whether the access token is still valid buffer from now.
// A session without a known expiry is treated as valid.
func (s *Session) ValidFor(now time.Time, buffer time.Duration) bool {
	if s.AccessToken == "" {
		return false
	}
	return !security.ExpiresWithin(now, s.Expiry(), buffer)
}

// sessionFromToken builds a session from a token response. Fields the
// response leaves out are carried over from prev.
func sessionFromToken(tok *oauth2.Token, prev *Session) *Session {
	s := &Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		s.ExpiresAt = tok.Expiry.UnixMilli()
	}
	if v, ok := tok.Extra("id_token").(string); ok {
		s.IDToken = v
	}
	if v, ok := tok.Extra("scope").(string); ok {
		s.Scope = v
	}

	if prev != nil {
		if s.RefreshToken == "" {
			s.RefreshToken = prev.RefreshToken
		}
		if s.IDToken == "" {
			s.IDToken = prev.IDToken
		}
		if s.Scope == "" {
			s.Scope = prev.Scope
		}
	}
	return s
}

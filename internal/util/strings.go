package util

import (
	"slices"
	"strings"
)

// SafeTruncate returns at most maxLen bytes of s. Used to log credential prefixes.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL strips trailing slashes.
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}

// ParseScope splits a space-delimited scope string, dropping empty and duplicate entries.
func ParseScope(scope string) []string {
	fields := strings.Fields(scope)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out
}

// HasScope reports whether the space-delimited scope contains want.
func HasScope(scope, want string) bool {
	return slices.Contains(strings.Fields(scope), want)
}

// JoinScope joins scope tokens with single spaces.
func JoinScope(scopes []string) string {
	return strings.Join(scopes, " ")
}

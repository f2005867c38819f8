package util

import (
	"reflect"
	"testing"
)

func TestSafeTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"shorter than max", "abc", 8, "abc"},
		{"exact length", "abcdefgh", 8, "abcdefgh"},
		{"longer than max", "abcdefghijkl", 8, "abcdefgh"},
		{"zero length", "abc", 0, ""},
		{"negative length", "abc", -1, ""},
		{"empty input", "", 8, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SafeTruncate(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("SafeTruncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestParseScope(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"single", "openid", []string{"openid"}},
		{"multiple", "openid profile email", []string{"openid", "profile", "email"}},
		{"extra whitespace", "  openid   email ", []string{"openid", "email"}},
		{"duplicates", "openid openid email", []string{"openid", "email"}},
		{"empty", "", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseScope(tt.input); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseScope(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestHasScope(t *testing.T) {
	if !HasScope("openid profile", "profile") {
		t.Error("HasScope should find profile")
	}
	if HasScope("openid profile", "prof") {
		t.Error("HasScope must match whole tokens only")
	}
	if HasScope("", "openid") {
		t.Error("HasScope on empty scope should be false")
	}
}

func TestNormalizeURL(t *testing.T) {
	if got := NormalizeURL("https://auth.example.com//"); got != "https://auth.example.com" {
		t.Errorf("NormalizeURL() = %q", got)
	}
}

package pkce

import (
	"errors"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestGenerateVerifier(t *testing.T) {
	v := GenerateVerifier()
	if len(v) != 43 {
		t.Errorf("len(GenerateVerifier()) = %d, want 43", len(v))
	}
	if err := ValidateVerifierFormat(v); err != nil {
		t.Errorf("generated verifier is not RFC 7636 compliant: %v", err)
	}
	if strings.ContainsAny(v, "+/=") {
		t.Errorf("verifier %q is not URL-safe unpadded", v)
	}
	if GenerateVerifier() == v {
		t.Error("two generated verifiers should not collide")
	}
}

func TestDeriveChallenge_KnownVector(t *testing.T) {
	// RFC 7636 Appendix B
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	want := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
	if got := DeriveChallenge(verifier); got != want {
		t.Errorf("DeriveChallenge() = %q, want %q", got, want)
	}
}

func TestDeriveChallenge_Deterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := rapid.StringMatching(`[A-Za-z0-9\-._~]{1,128}`).Draw(t, "verifier")
		if DeriveChallenge(v) != DeriveChallenge(v) {
			t.Fatalf("DeriveChallenge(%q) is not deterministic", v)
		}
		if err := Verify(DeriveChallenge(v), MethodS256, v, false); err != nil {
			t.Fatalf("Verify with matching verifier failed: %v", err)
		}
	})
}

func TestVerify_OtherVerifierFails(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := rapid.StringMatching(`[A-Za-z0-9]{43}`).Draw(t, "verifier")
		other := rapid.StringMatching(`[A-Za-z0-9]{43}`).Draw(t, "other")
		if v == other {
			t.Skip("identical draw")
		}
		if err := Verify(DeriveChallenge(v), MethodS256, other, false); !errors.Is(err, ErrVerifierMismatch) {
			t.Fatalf("Verify with wrong verifier = %v, want ErrVerifierMismatch", err)
		}
	})
}

func TestVerify(t *testing.T) {
	short := "abc123"

	tests := []struct {
		name       string
		challenge  string
		method     string
		verifier   string
		allowPlain bool
		wantErr    error
		anyErr     bool
	}{
		{name: "no challenge", challenge: "", verifier: ""},
		{name: "short S256 verifier", challenge: DeriveChallenge(short), method: MethodS256, verifier: short},
		{name: "missing verifier", challenge: DeriveChallenge(short), method: MethodS256, wantErr: ErrVerifierRequired},
		{name: "wrong verifier", challenge: DeriveChallenge(short), method: MethodS256, verifier: "abc124", wantErr: ErrVerifierMismatch},
		{name: "plain disallowed", challenge: short, method: MethodPlain, verifier: short, wantErr: ErrPlainNotAllowed},
		{name: "plain allowed", challenge: short, method: MethodPlain, verifier: short, allowPlain: true},
		{name: "invalid characters", challenge: "x", method: MethodS256, verifier: "abc 123", anyErr: true},
		{name: "too long", challenge: "x", method: MethodS256, verifier: strings.Repeat("a", 129), anyErr: true},
		{name: "unknown method", challenge: "x", method: "S512", verifier: short, anyErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Verify(tt.challenge, tt.method, tt.verifier, tt.allowPlain)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Verify() error = %v, want %v", err, tt.wantErr)
				}
			case tt.anyErr:
				if err == nil {
					t.Error("Verify() expected error, got nil")
				}
			default:
				if err != nil {
					t.Errorf("Verify() unexpected error = %v", err)
				}
			}
		})
	}
}

func TestSupportedMethod(t *testing.T) {
	if !SupportedMethod(MethodS256, false) {
		t.Error("S256 must be supported")
	}
	if SupportedMethod(MethodPlain, false) {
		t.Error("plain must be rejected unless allowed")
	}
	if !SupportedMethod(MethodPlain, true) {
		t.Error("plain must be supported when allowed")
	}
}

package security

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncryptor_RoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	enc, err := NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}
	if !enc.IsEnabled() {
		t.Fatal("encryptor with key should be enabled")
	}

	sealed, err := enc.Seal([]byte("refresh-token-value"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if bytes.Contains(sealed, []byte("refresh-token-value")) {
		t.Error("sealed value must not contain plaintext")
	}

	opened, err := enc.Open(sealed)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if string(opened) != "refresh-token-value" {
		t.Errorf("Open() = %q", opened)
	}

	s, err := enc.Encrypt("hello")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if got, err := enc.Decrypt(s); err != nil || got != "hello" {
		t.Errorf("Decrypt() = %q, %v", got, err)
	}
}

func TestEncryptor_Disabled(t *testing.T) {
	enc, err := NewEncryptor(nil)
	if err != nil {
		t.Fatalf("NewEncryptor(nil) error = %v", err)
	}
	if enc.IsEnabled() {
		t.Error("encryptor without key should be disabled")
	}
	out, _ := enc.Seal([]byte("plain"))
	if string(out) != "plain" {
		t.Errorf("disabled Seal() should be passthrough, got %q", out)
	}
}

func TestEncryptor_Errors(t *testing.T) {
	if _, err := NewEncryptor([]byte("short")); err == nil {
		t.Error("expected error for short key")
	}

	key, _ := GenerateKey()
	enc, _ := NewEncryptor(key)
	if _, err := enc.Open([]byte{1, 2}); !errors.Is(err, ErrCiphertextTooShort) {
		t.Errorf("Open(short) error = %v, want ErrCiphertextTooShort", err)
	}

	other, _ := GenerateKey()
	enc2, _ := NewEncryptor(other)
	sealed, _ := enc.Seal([]byte("x"))
	if _, err := enc2.Open(sealed); err == nil {
		t.Error("opening with the wrong key should fail")
	}
}

func TestKeyFromBase64(t *testing.T) {
	if _, err := KeyFromBase64("not base64!"); err == nil {
		t.Error("expected decode error")
	}
	if _, err := KeyFromBase64("c2hvcnQ="); err == nil {
		t.Error("expected length error")
	}
	if _, err := KeyFromBase64("MDEyMzQ1Njc4OTAxMjM0NTY3ODkwMTIzNDU2Nzg5MDE="); err != nil {
		t.Errorf("valid key rejected: %v", err)
	}
}

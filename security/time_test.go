package security

import (
	"testing"
	"time"
)

func TestIsExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		grace     time.Duration
		want      bool
	}{
		{"zero never expires", time.Time{}, 0, false},
		{"future", now.Add(time.Minute), 0, false},
		{"exactly now is not expired", now, 0, false},
		{"past", now.Add(-time.Second), 0, true},
		{"past within grace", now.Add(-time.Second), 5 * time.Second, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpired(now, tt.expiresAt, tt.grace); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExpiresWithin(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	buffer := 5 * time.Minute

	if ExpiresWithin(now, now.Add(10*time.Minute), buffer) {
		t.Error("10 minutes out should be outside a 5 minute buffer")
	}
	if !ExpiresWithin(now, now.Add(4*time.Minute), buffer) {
		t.Error("4 minutes out should be inside a 5 minute buffer")
	}
	if !ExpiresWithin(now, now.Add(-time.Minute), buffer) {
		t.Error("already expired should be inside the buffer")
	}
}

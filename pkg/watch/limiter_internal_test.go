package watch

import (
	"testing"
	"time"
)

// sessions older than the window must stop counting against the limit.
func TestSessionLimiter_WindowExpiry(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	testee := NewSessionLimiter(1, 30*time.Second)
	testee.now = func() time.Time { return now }

	if !testee.Acquire("alice") {
		t.Fatal("first session refused")
	}
	if testee.Acquire("alice") {
		t.Fatal("second session admitted inside the window")
	}

	now = now.Add(31 * time.Second)
	if !testee.Acquire("alice") {
		t.Error("session refused after the window elapsed")
	}
}

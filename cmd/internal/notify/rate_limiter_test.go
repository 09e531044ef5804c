package notify

import (
	"testing"
	"time"
)

func TestRateLimiter_AllowsUpToLimit(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(60, time.Minute)

	for i := 0; i < 60; i++ {
		if !rl.Allow("conn-1", now.Add(time.Duration(i)*100*time.Millisecond)) {
			t.Fatalf("message %d unexpectedly rejected", i+1)
		}
	}
	if rl.Allow("conn-1", now.Add(10*time.Second)) {
		t.Fatalf("61st message within window should be rejected")
	}
}

func TestRateLimiter_WindowReset(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Minute)

	if !rl.Allow("conn-1", now) || !rl.Allow("conn-1", now) {
		t.Fatalf("expected first two messages to pass")
	}
	if rl.Allow("conn-1", now.Add(59*time.Second)) {
		t.Fatalf("expected rejection inside the window")
	}
	if !rl.Allow("conn-1", now.Add(time.Minute)) {
		t.Fatalf("expected fresh window at the boundary")
	}
}

func TestRateLimiter_PerConnectionIsolation(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, time.Minute)

	if !rl.Allow("conn-a", now) {
		t.Fatalf("conn-a first message should pass")
	}
	if rl.Allow("conn-a", now) {
		t.Fatalf("conn-a second message should be rejected")
	}
	if !rl.Allow("conn-b", now) {
		t.Fatalf("conn-b budget must be independent of conn-a")
	}
}

func TestRateLimiter_Forget(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, time.Minute)

	rl.Allow("conn-1", now)
	rl.Allow("conn-2", now)
	if got := rl.Tracked(); got != 2 {
		t.Fatalf("expected 2 tracked windows, got %d", got)
	}

	rl.Forget("conn-1")
	if got := rl.Tracked(); got != 1 {
		t.Fatalf("expected 1 tracked window after Forget, got %d", got)
	}
	if !rl.Allow("conn-1", now) {
		t.Fatalf("forgotten connection should start a fresh window")
	}
}

package notify

import (
	"sync"
	"time"
)

// RateLimiter enforces a fixed-window inbound message budget per connection.
//
// Each window is a counter plus its start time; the first Allow call past
// the window boundary lazily resets it. There is no refill goroutine and
// windows are not persisted across reconnects.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	windows map[string]*rateWindow
}

type rateWindow struct {
	count int
	start time.Time
}

// NewRateLimiter constructs a RateLimiter with safe defaults when inputs are invalid.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = defaultRateLimit
	}
	if window <= 0 {
		window = defaultRateWindow
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		windows: make(map[string]*rateWindow),
	}
}

// Allow reports whether one more inbound message from connID fits the
// current window, counting it if so.
func (r *RateLimiter) Allow(connID string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	w := r.windows[connID]
	if w == nil || now.Sub(w.start) >= r.window {
		w = &rateWindow{start: now}
		r.windows[connID] = w
	}

	if w.count >= r.limit {
		return false
	}
	w.count++
	return true
}

// Forget drops the window state for a torn-down connection.
func (r *RateLimiter) Forget(connID string) {
	r.mu.Lock()
	delete(r.windows, connID)
	r.mu.Unlock()
}

// Tracked returns the number of tracked connections. Test helper.
func (r *RateLimiter) Tracked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.windows)
}

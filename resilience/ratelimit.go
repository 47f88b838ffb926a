package resilience

import (
	"sync"
	"time"
)

// DefaultWindow is the trailing window over which upstream quotas are
// enforced.
const DefaultWindow = time.Second

// RateLimiter admits at most limit calls per trailing window. Each
// upstream registry gets its own instance because each publishes its own
// quota. Safe for concurrent use.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time

	now func() time.Time
}

// NewRateLimiter creates a limiter admitting limit calls per window. A
// window of zero or below falls back to DefaultWindow.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = DefaultWindow
	}

	return &RateLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow reports whether another call may proceed now. Permitted calls
// are recorded; denied calls are not, and the returned duration is the
// wait until the oldest recorded call leaves the window, suitable for
// Retry-After signaling.
func (rl *RateLimiter) Allow() (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rl.window)

	// Drop timestamps that have left the window.
	keep := 0
	for keep < len(rl.stamps) && !rl.stamps[keep].After(cutoff) {
		keep++
	}
	if keep > 0 {
		rl.stamps = append(rl.stamps[:0], rl.stamps[keep:]...)
	}

	if len(rl.stamps) < rl.limit {
		rl.stamps = append(rl.stamps, now)
		return true, 0
	}

	return false, rl.stamps[0].Add(rl.window).Sub(now)
}

// InWindow returns how many admitted calls are still inside the window.
func (rl *RateLimiter) InWindow() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.window)
	count := 0
	for _, stamp := range rl.stamps {
		if stamp.After(cutoff) {
			count++
		}
	}
	return count
}

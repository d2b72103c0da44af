package notifications

import (
	"sync"
	"time"
)

// RateLimiter caps outbound notifications per hour. The bucket refills in
// full once an hour has passed since the last refill.
type RateLimiter struct {
	maxPerHour int
	tokens     int
	lastRefill time.Time
	mu         sync.Mutex
	now        func() time.Time
}

// NewRateLimiter creates a new rate limiter. A non-positive max disables limiting.
func NewRateLimiter(maxPerHour int) *RateLimiter {
	return &RateLimiter{
		maxPerHour: maxPerHour,
		tokens:     maxPerHour,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// Allow reports whether a notification can be sent now and consumes a token if so.
func (rl *RateLimiter) Allow() bool {
	if rl.maxPerHour <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens > 0 {
		rl.tokens--
		return true
	}
	return false
}

// Remaining returns the tokens left in the current hour.
func (rl *RateLimiter) Remaining() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	return rl.tokens
}

// ResetTime returns when tokens will be refilled
func (rl *RateLimiter) ResetTime() time.Time {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return rl.lastRefill.Add(time.Hour)
}

func (rl *RateLimiter) refill() {
	if now := rl.now(); now.Sub(rl.lastRefill) >= time.Hour {
		rl.tokens = rl.maxPerHour
		rl.lastRefill = now
	}
}

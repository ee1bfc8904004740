package agent

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket that spaces out language model calls.
type RateLimiter struct {
	mu       sync.Mutex
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastTime time.Time
}

// NewRateLimiter allows maxBurst immediate calls, refilled at ratePerMinute.
func NewRateLimiter(maxBurst int, ratePerMinute float64) *RateLimiter {
	if maxBurst <= 0 {
		maxBurst = defaultRateBurst
	}
	if ratePerMinute <= 0 {
		ratePerMinute = defaultRatePerMinute
	}
	return &RateLimiter{
		tokens:   float64(maxBurst),
		max:      float64(maxBurst),
		rate:     ratePerMinute / 60.0,
		lastTime: time.Now(),
	}
}

func (rl *RateLimiter) refill(now time.Time) {
	rl.tokens += now.Sub(rl.lastTime).Seconds() * rl.rate
	if rl.tokens > rl.max {
		rl.tokens = rl.max
	}
	rl.lastTime = now
}

// Available reports how many calls could be made right now.
func (rl *RateLimiter) Available() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill(time.Now())
	return rl.tokens
}

// Wait blocks until a call is allowed or ctx is done, and reports how long
// it was held back.
func (rl *RateLimiter) Wait(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	for {
		rl.mu.Lock()
		rl.refill(time.Now())
		if rl.tokens >= 1.0 {
			rl.tokens -= 1.0
			rl.mu.Unlock()
			return time.Since(start), nil
		}
		delay := time.Duration((1.0 - rl.tokens) / rl.rate * float64(time.Second))
		rl.mu.Unlock()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return time.Since(start), ctx.Err()
		case <-timer.C:
		}
	}
}

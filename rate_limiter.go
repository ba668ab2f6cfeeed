package kukuh

import (
	"context"
	"sync"
	"time"
)

// Limiter gates outbound call rate. Acquire blocks until the caller may
// proceed or ctx is done.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// RateLimiter is a blocking token bucket. The bucket replenishes at a
// sustained rate and can accumulate up to a burst of immediately spendable
// tokens. The first call always proceeds without waiting.
//
// Callers sharing one RateLimiter serialize through its mutex, which is held
// across the wait: this is what enforces the minimum inter-call spacing for
// concurrent callers. There is no FIFO guarantee among waiters.
type RateLimiter struct {
	mu        sync.Mutex
	rate      float64 // tokens per second
	burst     float64 // max accumulated tokens, >= 1
	allowance float64 // current tokens, 0 <= allowance <= burst
	lastCheck time.Time
}

// NewRateLimiter creates a rate limiter sustaining callsPerSecond with the
// given burst capacity. A burst below 1 is raised to 1 (no burst), and a
// non-positive rate falls back to 1 call/s: rate 0 would make the token
// deficit wait divide to +Inf and silently disable limiting.
func NewRateLimiter(callsPerSecond, burstSize float64) *RateLimiter {
	if callsPerSecond <= 0 {
		callsPerSecond = 1.0
	}
	if burstSize < 1.0 {
		burstSize = 1.0
	}
	allowance := burstSize
	if allowance > 1.0 {
		allowance = 1.0
	}
	return &RateLimiter{
		rate:      callsPerSecond,
		burst:     burstSize,
		allowance: allowance,
		lastCheck: time.Now(),
	}
}

// Acquire consumes one token, sleeping until one is available. The only
// error condition is ctx expiring during the wait; rate limiting itself is
// purely a scheduling delay.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastCheck).Seconds()
	rl.lastCheck = now

	rl.allowance += elapsed * rl.rate
	if rl.allowance > rl.burst {
		rl.allowance = rl.burst
	}

	if rl.allowance >= 1.0 {
		rl.allowance -= 1.0
		return nil
	}

	wait := time.Duration((1.0 - rl.allowance) / rl.rate * float64(time.Second))

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	// The slept-for replenishment was spent on this call.
	rl.allowance = 0
	rl.lastCheck = time.Now()
	return nil
}

// Allowance returns the current token count, for metrics and tests.
func (rl *RateLimiter) Allowance() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.allowance
}

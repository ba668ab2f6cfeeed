// Package backoff provides the pure delay math used by the retry
// orchestrator and the async poller: exponential growth with a cap and
// uniform-factor jitter.
package backoff

import (
	"math/rand"
	"time"
)

// Delay returns the wait before the attempt after attempt n (0-indexed):
// factor^n seconds, capped at max. Negative attempts are treated as 0 and
// the exponent is bounded to keep the multiplication from overflowing.
func Delay(attempt int, factor float64, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}

	d := time.Duration(Pow(factor, attempt) * float64(time.Second))
	if d < 0 || d > max {
		d = max
	}
	return d
}

// Jitter multiplies d by a uniformly random factor in [minFactor, maxFactor]
// to avoid synchronized retry storms across concurrent callers. A degenerate
// range (max <= min) returns d scaled by minFactor.
func Jitter(d time.Duration, minFactor, maxFactor float64) time.Duration {
	if minFactor <= 0 {
		minFactor = 1.0
	}
	if maxFactor < minFactor {
		maxFactor = minFactor
	}

	factor := minFactor
	if maxFactor > minFactor {
		factor += rand.Float64() * (maxFactor - minFactor)
	}
	return time.Duration(float64(d) * factor)
}

// Pow calculates base^exponent by repeated multiplication. Exponents are
// small (bounded by the retry attempt cap) so this avoids the float64
// edge cases of math.Pow.
func Pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}

package kukuh

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kukuh-id/kukuh/internal/backoff"
)

// DefaultRetryConfig returns the retry defaults: 5 total attempts, a 3.0
// backoff factor capped at 30s, and jitter factors 0.8–1.2.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     5,
		BackoffFactor:   3.0,
		MaxBackoff:      30 * time.Second,
		JitterMinFactor: 0.8,
		JitterMaxFactor: 1.2,
	}
}

func (rc *RetryConfig) applyDefaults() {
	if rc.MaxAttempts <= 0 {
		rc.MaxAttempts = 5
	}
	if rc.BackoffFactor <= 0 {
		rc.BackoffFactor = 3.0
	}
	if rc.MaxBackoff <= 0 {
		rc.MaxBackoff = 30 * time.Second
	}
	if rc.JitterMinFactor <= 0 {
		rc.JitterMinFactor = 0.8
	}
	if rc.JitterMaxFactor <= 0 {
		rc.JitterMaxFactor = 1.2
	}
}

// shouldRetry classifies an attempt outcome. Transport errors and the
// retryable status family (429, 500, 502, 503, 504) are transient; every
// other response is terminal and propagates without retry.
func shouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp == nil {
		return false
	}
	return retryableStatus(resp.StatusCode)
}

// retryDelay computes the jittered wait before the next attempt. A server
// supplied Retry-After header takes precedence over the exponential backoff;
// jitter applies either way.
func (rc RetryConfig) retryDelay(resp *http.Response, attempt int) time.Duration {
	var delay time.Duration
	if resp != nil {
		delay = parseRetryAfter(resp.Header.Get("Retry-After"))
	}
	if delay == 0 {
		delay = backoff.Delay(attempt, rc.BackoffFactor, rc.MaxBackoff)
	}
	return backoff.Jitter(delay, rc.JitterMinFactor, rc.JitterMaxFactor)
}

// jitterRange applies a uniform jitter factor in [minFactor, maxFactor].
func jitterRange(d time.Duration, minFactor, maxFactor float64) time.Duration {
	return backoff.Jitter(d, minFactor, maxFactor)
}

// parseRetryAfter parses a Retry-After header value. It supports both the
// delay-seconds format and the HTTP-date format, capping the result at one
// hour. Unparseable or non-positive values yield 0 (no override).
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds > 0 {
			delay := time.Duration(seconds) * time.Second
			if delay > time.Hour {
				delay = time.Hour
			}
			return delay
		}
		return 0
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}

	return 0
}

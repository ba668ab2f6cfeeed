// Package kukuh provides a resilient HTTP client built from four composable
// reliability primitives applied to every outbound request:
//
//   - Rate limiting (blocking token bucket, optional per-endpoint pools)
//   - Circuit breaker (closed / open / half-open states)
//   - Retries with exponential backoff, Retry-After awareness and jitter
//   - Async-operation polling (202 Accepted + Location header)
//
// Design goals:
//   - Small surface area – functional options configure everything
//   - Safe concurrent use of a single *Client instance
//   - Typed errors: callers receive a result or exactly one *ClientError
//   - Extensibility via user supplied middleware & pluggable metrics/logging
//
// Typical usage:
//
//	client := kukuh.New(
//	    kukuh.WithMaxRetries(5),
//	    kukuh.WithBackoffFactor(3.0),
//	    kukuh.WithRateLimiter(10, 1),
//	    kukuh.WithCircuitBreaker(kukuh.CircuitBreakerConfig{}),
//	    kukuh.WithAsyncPolling(kukuh.PollerConfig{}),
//	)
//	resp, err := client.Get(ctx, "https://api.example.com/items")
//
// The control flow per call is: rate limiter gate, circuit breaker gate,
// send, 202 handling, error classification, retry decision, breaker outcome
// recording. Transient failures (429, 5xx, transport errors) are retried up
// to the configured bound; terminal client errors propagate immediately.
// The library avoids opinionated logging: provide a Logger (e.g. via
// WithSimpleLogger or WithZerolog) and enable debug flags selectively.
package kukuh

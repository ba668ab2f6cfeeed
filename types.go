package kukuh

import (
	"net/http"
	"time"
)

// Middleware wraps an outbound request, typically to add headers, tracing or
// custom short-circuit behavior. Call next.RoundTrip to continue the chain.
type Middleware func(req *http.Request, next RoundTripper) (*http.Response, error)

// RoundTripper represents the HTTP transport interface.
type RoundTripper interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// RoundTripperFunc adapts a function to the RoundTripper interface.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Option represents a configuration option for New.
type Option func(*Client)

// KeyFunc derives a rate limiter pool key from an outbound request.
type KeyFunc func(req *http.Request) string

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive recorded failures that
	// trips the breaker open. Defaults to 5.
	FailureThreshold int
	// RecoveryTimeout is how long the breaker stays open before allowing a
	// half-open trial call. Defaults to 60s.
	RecoveryTimeout time.Duration
}

// RetryConfig holds retry orchestration configuration.
type RetryConfig struct {
	// MaxAttempts is the total number of physical attempts, including the
	// first. Defaults to 5.
	MaxAttempts int
	// BackoffFactor is the exponential base: the delay before attempt n+1 is
	// BackoffFactor^n seconds. Defaults to 3.0.
	BackoffFactor float64
	// MaxBackoff caps a single computed delay. Defaults to 30s. A server
	// supplied Retry-After header overrides the computed delay.
	MaxBackoff time.Duration
	// JitterMinFactor and JitterMaxFactor bound the uniform multiplier
	// applied to every wait to avoid synchronized retry storms.
	// Default to 0.8 and 1.2.
	JitterMinFactor float64
	JitterMaxFactor float64
}

// PollerConfig holds async-operation (202 Accepted) polling configuration.
type PollerConfig struct {
	// Interval is the default wait between polls, used when the server does
	// not supply a Retry-After header. Defaults to 5s.
	Interval time.Duration
	// MaxWait bounds the total wall-clock time spent polling before the
	// operation is reported as timed out. Defaults to 300s.
	MaxWait time.Duration
}

// DebugConfig gates per-concern debug logging. All flags require Enabled
// plus a configured Logger to have any effect.
type DebugConfig struct {
	Enabled      bool
	LogRequests  bool
	LogRetries   bool
	LogRateLimit bool
	LogCircuit   bool
	LogPolling   bool
	RequestIDGen func() string
}

// DefaultDebugConfig returns a DebugConfig with all concerns enabled and a
// counter-free timestamp request ID generator. Enabled stays false until
// WithDebug is applied.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		LogRequests:  true,
		LogRetries:   true,
		LogRateLimit: true,
		LogCircuit:   true,
		LogPolling:   true,
		RequestIDGen: defaultRequestID,
	}
}

func defaultRequestID() string {
	return time.Now().UTC().Format("20060102T150405.000000000")
}

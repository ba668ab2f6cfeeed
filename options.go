package kukuh

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// WithMaxRetries sets the total number of physical attempts, including the
// first.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.retry.MaxAttempts = n
	}
}

// WithBackoffFactor sets the exponential base: the delay before attempt n+1
// is factor^n seconds.
func WithBackoffFactor(f float64) Option {
	return func(c *Client) {
		c.retry.BackoffFactor = f
	}
}

// WithMaxBackoff caps a single computed backoff delay.
func WithMaxBackoff(d time.Duration) Option {
	return func(c *Client) {
		c.retry.MaxBackoff = d
	}
}

// WithJitterRange sets the uniform jitter factor bounds applied to every
// retry and poll wait.
func WithJitterRange(minFactor, maxFactor float64) Option {
	return func(c *Client) {
		c.retry.JitterMinFactor = minFactor
		c.retry.JitterMaxFactor = maxFactor
	}
}

// WithRetryConfig replaces the whole retry configuration at once.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(c *Client) {
		c.retry = cfg
	}
}

// WithRateLimiter gates all requests through one token bucket.
func WithRateLimiter(callsPerSecond, burstSize float64) Option {
	return func(c *Client) {
		c.limiter = NewRateLimiter(callsPerSecond, burstSize)
	}
}

// WithLimiter sets a custom limiter implementation.
func WithLimiter(limiter Limiter) Option {
	return func(c *Client) {
		c.limiter = limiter
	}
}

// WithRateLimiterRegistry routes requests to per-endpoint limiter pools.
// The registry may be shared between clients talking to the same backends.
func WithRateLimiterRegistry(registry *RateLimiterRegistry) Option {
	return func(c *Client) {
		c.limiterRegistry = registry
	}
}

// WithCircuitBreaker sets the circuit breaker configuration.
func WithCircuitBreaker(config CircuitBreakerConfig) Option {
	return func(c *Client) {
		c.circuitBreaker = NewCircuitBreaker(config)
	}
}

// WithSharedCircuitBreaker installs an existing breaker instance, letting
// several clients trip and heal together.
func WithSharedCircuitBreaker(cb *CircuitBreaker, name string) Option {
	return func(c *Client) {
		c.circuitBreaker = cb
		if name != "" {
			c.breakerName = name
		}
	}
}

// WithoutCircuitBreaker disables circuit breaking.
func WithoutCircuitBreaker() Option {
	return func(c *Client) {
		c.circuitBreaker = nil
	}
}

// WithAsyncPolling configures 202 Accepted handling. Polling is enabled by
// default with a 5s interval and 300s maximum wait.
func WithAsyncPolling(config PollerConfig) Option {
	return func(c *Client) {
		if config.Interval > 0 {
			c.pollerConfig.Interval = config.Interval
		}
		if config.MaxWait > 0 {
			c.pollerConfig.MaxWait = config.MaxWait
		}
		c.pollingEnabled = true
	}
}

// WithoutAsyncPolling disables 202 handling; callers receive 202 responses
// verbatim.
func WithoutAsyncPolling() Option {
	return func(c *Client) {
		c.pollingEnabled = false
	}
}

// WithTimeout sets the per-attempt request timeout on the underlying
// http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if c.httpClient != nil {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithMiddleware adds middleware to the client. Middleware runs on every
// physical attempt and on every async status poll.
func WithMiddleware(middleware ...Middleware) Option {
	return func(c *Client) {
		c.middleware = append(c.middleware, middleware...)
	}
}

// WithBearerAuth injects Authorization headers from the token source on
// every outbound request.
func WithBearerAuth(source TokenSource) Option {
	return func(c *Client) {
		c.middleware = append(c.middleware, BearerAuth(source))
	}
}

// WithMetrics enables Prometheus metrics collection on the default
// registerer.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithLogger sets a custom logger for debug output.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSimpleLogger enables debug logging with a plain console logger.
func WithSimpleLogger() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
		c.logger = NewSimpleLogger()
	}
}

// WithZerolog enables debug logging through a zerolog logger.
func WithZerolog(logger zerolog.Logger) Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
		c.logger = NewZerologLogger(logger)
	}
}

// WithDebug enables debug logging with default configuration.
func WithDebug() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
	}
}

// WithDebugConfig sets custom debug configuration.
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Client) {
		c.debug = config
	}
}

// WithRequestIDGenerator sets a custom function for generating request IDs.
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.RequestIDGen = gen
	}
}

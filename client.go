package kukuh

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a resilient HTTP client that layers rate limiting, circuit
// breaking, retries with backoff and async-operation polling around the
// standard net/http Client. It is safe for concurrent use.
//
// Per call the pipeline runs: rate limiter gate, circuit breaker gate, send
// through the middleware chain, 202 Accepted hand-off to the async poller,
// outcome classification, retry decision. The breaker records exactly one
// outcome per physical attempt, so its sensitivity tracks the real failure
// rate rather than the logical (retry-wrapped) one.
type Client struct {
	httpClient      *http.Client
	retry           RetryConfig
	limiter         Limiter
	limiterRegistry *RateLimiterRegistry
	circuitBreaker  *CircuitBreaker
	breakerName     string
	pollerConfig    PollerConfig
	pollingEnabled  bool
	middleware      []Middleware
	metrics         *MetricsCollector
	debug           *DebugConfig
	logger          Logger
	validationError error
}

// New constructs a Client using the provided functional options. A best
// effort validation is performed; call IsValid / ValidationError for errors.
func New(options ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retry:          DefaultRetryConfig(),
		circuitBreaker: NewCircuitBreaker(CircuitBreakerConfig{}),
		breakerName:    "default",
		pollerConfig:   PollerConfig{Interval: 5 * time.Second, MaxWait: 300 * time.Second},
		pollingEnabled: true,
		middleware:     []Middleware{},
		debug:          DefaultDebugConfig(),
	}

	for _, option := range options {
		option(client)
	}
	client.retry.applyDefaults()

	if err := client.validateConfiguration(); err != nil {
		client.validationError = err
	}

	return client
}

// Get performs an HTTP GET with context.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	return c.roundTripVerb(ctx, http.MethodGet, url, "", nil)
}

// Post performs an HTTP POST with the given content type.
func (c *Client) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	return c.roundTripVerb(ctx, http.MethodPost, url, contentType, body)
}

// Put performs an HTTP PUT with the given content type.
func (c *Client) Put(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	return c.roundTripVerb(ctx, http.MethodPut, url, contentType, body)
}

// Patch performs an HTTP PATCH with the given content type.
func (c *Client) Patch(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	return c.roundTripVerb(ctx, http.MethodPatch, url, contentType, body)
}

// Delete performs an HTTP DELETE.
func (c *Client) Delete(ctx context.Context, url string) (*http.Response, error) {
	return c.roundTripVerb(ctx, http.MethodDelete, url, "", nil)
}

func (c *Client) roundTripVerb(ctx context.Context, method, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.Do(req)
}

// Do executes a prepared *http.Request applying all reliability features.
// It returns either a response or exactly one *ClientError (context errors
// excepted). The response body of the final attempt is the caller's to
// close.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	endpoint := getEndpointFromRequest(req)

	var requestID string
	if c.debug != nil && c.debug.Enabled && c.debug.RequestIDGen != nil {
		requestID = c.debug.RequestIDGen()
	}

	if c.debug != nil && c.debug.Enabled && c.debug.LogRequests && c.logger != nil {
		c.logger.Debug("Starting request", "requestID", requestID,
			"method", req.Method, "url", req.URL.String(), "endpoint", endpoint)
	}

	if c.metrics != nil {
		c.metrics.RecordRequestStart(req.Method, endpoint)
	}

	resp, err := c.do(req, requestID, start)

	if c.metrics != nil {
		c.metrics.RecordRequestEnd(req.Method, endpoint)
		statusCode := 0
		if resp != nil {
			statusCode = resp.StatusCode
		}
		c.metrics.RecordRequest(req.Method, endpoint, statusCode, time.Since(start))
	}

	return resp, err
}

// do runs the attempt loop. MaxAttempts bounds the number of physical
// attempts including the first; waits between attempts honor the request
// context.
func (c *Client) do(req *http.Request, requestID string, startTime time.Time) (*http.Response, error) {
	endpoint := getEndpointFromRequest(req)
	ctx := req.Context()

	var lastResp *http.Response
	var lastErr error

	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			if c.debug != nil && c.debug.Enabled && c.debug.LogRetries && c.logger != nil {
				c.logger.Info("Retry attempt", "requestID", requestID,
					"attempt", attempt+1, "maxAttempts", c.retry.MaxAttempts, "endpoint", endpoint)
			}
			if c.metrics != nil {
				c.metrics.RecordRetry(req.Method, endpoint, attempt)
			}
			if err := rewindRequestBody(req); err != nil {
				return nil, c.newClientError(ErrorTypeClient, "request body cannot be replayed",
					err, requestID, req, attempt+1, 0, time.Since(startTime))
			}
		}

		if err := c.acquireRateLimit(ctx, req, requestID, endpoint); err != nil {
			return nil, err
		}

		// Breaker gate. An open breaker short-circuits locally and is not
		// recorded as a new failure.
		if c.circuitBreaker != nil && c.circuitBreaker.IsOpen() {
			if c.debug != nil && c.debug.Enabled && c.debug.LogCircuit && c.logger != nil {
				c.logger.Warn("Circuit breaker open", "requestID", requestID,
					"endpoint", endpoint, "state", c.circuitBreaker.State().String())
			}
			if c.metrics != nil {
				c.metrics.RecordError(ErrorTypeCircuitOpen, req.Method, endpoint)
			}
			return nil, c.newClientError(ErrorTypeCircuitOpen, "circuit breaker is open",
				nil, requestID, req, attempt+1, 0, time.Since(startTime))
		}

		resp, err := c.executeMiddleware(req)
		c.recordBreakerOutcome(resp, err, requestID)

		if err == nil && !retryableStatus(resp.StatusCode) {
			// Success family or terminal client error.
			if resp.StatusCode == http.StatusAccepted && c.pollingEnabled {
				return c.awaitAsync(ctx, resp)
			}
			if resp.StatusCode >= 400 {
				statusCode := resp.StatusCode
				drainBody(resp)
				if c.metrics != nil {
					c.metrics.RecordError(ErrorTypeClient, req.Method, endpoint)
				}
				return nil, c.newClientError(ErrorTypeClient,
					fmt.Sprintf("request failed with HTTP %d", statusCode),
					nil, requestID, req, attempt+1, statusCode, time.Since(startTime))
			}
			return resp, nil
		}

		lastResp, lastErr = resp, err

		if c.metrics != nil {
			if err != nil {
				c.metrics.RecordError(ErrorTypeNetwork, req.Method, endpoint)
			} else {
				c.metrics.RecordError(classifyStatus(resp.StatusCode), req.Method, endpoint)
			}
		}

		if attempt == c.retry.MaxAttempts-1 {
			break
		}

		delay := c.retry.retryDelay(resp, attempt)
		if c.debug != nil && c.debug.Enabled && c.debug.LogRetries && c.logger != nil {
			if err != nil {
				c.logger.Warn("Transient failure, scheduling retry", "requestID", requestID,
					"attempt", attempt+1, "backoff", delay, "endpoint", endpoint, "error", err.Error())
			} else {
				c.logger.Warn("Transient failure, scheduling retry", "requestID", requestID,
					"attempt", attempt+1, "backoff", delay, "endpoint", endpoint, "statusCode", resp.StatusCode)
			}
		}
		drainBody(resp)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	// All attempts spent on transient failures.
	lastStatus := 0
	cause := lastErr
	if lastResp != nil {
		lastStatus = lastResp.StatusCode
		drainBody(lastResp)
		if cause == nil {
			cause = fmt.Errorf("HTTP %d", lastStatus)
		}
	}
	if c.metrics != nil {
		c.metrics.RecordError(ErrorTypeRetriesExhausted, req.Method, endpoint)
	}
	return nil, c.newClientError(ErrorTypeRetriesExhausted,
		fmt.Sprintf("all %d attempts failed", c.retry.MaxAttempts),
		cause, requestID, req, c.retry.MaxAttempts, lastStatus, time.Since(startTime))
}

// acquireRateLimit blocks on the limiter responsible for req, if any.
func (c *Client) acquireRateLimit(ctx context.Context, req *http.Request, requestID, endpoint string) error {
	limiter, name := c.resolveLimiter(req)
	if limiter == nil {
		return nil
	}

	if c.debug != nil && c.debug.Enabled && c.debug.LogRateLimit && c.logger != nil {
		c.logger.Debug("Acquiring rate limit token", "requestID", requestID,
			"endpoint", endpoint, "limiter", name)
	}

	if err := limiter.Acquire(ctx); err != nil {
		return err
	}

	if c.metrics != nil {
		if rl, ok := limiter.(*RateLimiter); ok {
			c.metrics.RecordRateLimiterTokens(name, rl.Allowance())
		}
	}
	return nil
}

// resolveLimiter picks the registry pool for the request when a registry is
// configured, falling back to the single client-wide limiter.
func (c *Client) resolveLimiter(req *http.Request) (Limiter, string) {
	if c.limiterRegistry != nil {
		return c.limiterRegistry.Get(req)
	}
	if c.limiter != nil {
		return c.limiter, "default"
	}
	return nil, ""
}

// recordBreakerOutcome records exactly one breaker outcome for a physical
// attempt. Transport errors and 5xx responses count as failures; everything
// else, including 429, counts as success since the dependency answered.
func (c *Client) recordBreakerOutcome(resp *http.Response, err error, requestID string) {
	if c.circuitBreaker == nil {
		return
	}

	if err != nil || (resp != nil && resp.StatusCode >= 500) {
		c.circuitBreaker.RecordFailure()
		if c.debug != nil && c.debug.Enabled && c.debug.LogCircuit && c.logger != nil {
			if err != nil {
				c.logger.Warn("Circuit breaker failure recorded", "requestID", requestID, "error", err.Error())
			} else {
				c.logger.Warn("Circuit breaker failure recorded", "requestID", requestID, "statusCode", resp.StatusCode)
			}
		}
	} else {
		c.circuitBreaker.RecordSuccess()
	}

	if c.metrics != nil {
		c.metrics.RecordCircuitBreakerState(c.breakerName, c.circuitBreaker.State())
	}
}

// awaitAsync hands a 202 response to the poller. Polls run through the
// middleware chain (so auth headers apply) and through the rate limiter,
// but bypass the retry loop: poll failures are terminal for the call.
// ctx is the caller's request context, not the per-attempt one net/http
// cancels when the response body is closed.
func (c *Client) awaitAsync(ctx context.Context, resp *http.Response) (*http.Response, error) {
	poller := &AsyncPoller{
		interval:  c.pollerConfig.Interval,
		maxWait:   c.pollerConfig.MaxWait,
		jitterMin: c.retry.JitterMinFactor,
		jitterMax: c.retry.JitterMaxFactor,
		transport: RoundTripperFunc(func(pollReq *http.Request) (*http.Response, error) {
			if err := c.acquireRateLimit(pollReq.Context(), pollReq, "", getEndpointFromRequest(pollReq)); err != nil {
				return nil, err
			}
			return c.executeMiddleware(pollReq)
		}),
		logger:  c.logger,
		debug:   c.debug,
		metrics: c.metrics,
	}
	return poller.Await(ctx, resp)
}

// executeMiddleware sends the request through the middleware chain to the
// underlying http.Client.
func (c *Client) executeMiddleware(req *http.Request) (*http.Response, error) {
	if len(c.middleware) == 0 {
		return c.httpClient.Do(req)
	}

	current := RoundTripperFunc(c.httpClient.Do)

	for i := len(c.middleware) - 1; i >= 0; i-- {
		middleware := c.middleware[i]
		next := current
		current = RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return middleware(r, next)
		})
	}

	return current.RoundTrip(req)
}

// rewindRequestBody restores a request body for a fresh physical attempt.
func rewindRequestBody(req *http.Request) error {
	if req.Body == nil || req.GetBody == nil {
		if req.Body == nil {
			return nil
		}
		return fmt.Errorf("request has a body but no GetBody")
	}
	body, err := req.GetBody()
	if err != nil {
		return err
	}
	req.Body = body
	return nil
}

func (c *Client) newClientError(errorType, message string, cause error, requestID string,
	req *http.Request, attempt int, statusCode int, duration time.Duration) *ClientError {
	return &ClientError{
		Type:        errorType,
		Message:     message,
		Cause:       cause,
		RequestID:   requestID,
		Method:      req.Method,
		URL:         req.URL.String(),
		Endpoint:    getEndpointFromRequest(req),
		StatusCode:  statusCode,
		Attempt:     attempt,
		MaxAttempts: c.retry.MaxAttempts,
		Timestamp:   time.Now(),
		Duration:    duration,
	}
}

// validateConfiguration checks option-supplied values against the
// recognized ranges.
func (c *Client) validateConfiguration() error {
	if c.retry.MaxAttempts <= 0 {
		return fmt.Errorf("MaxAttempts must be positive, got %d", c.retry.MaxAttempts)
	}
	if c.retry.BackoffFactor <= 1 {
		return fmt.Errorf("BackoffFactor must be greater than 1, got %g", c.retry.BackoffFactor)
	}
	if c.retry.MaxBackoff <= 0 {
		return fmt.Errorf("MaxBackoff must be positive, got %v", c.retry.MaxBackoff)
	}
	if c.retry.JitterMinFactor <= 0 || c.retry.JitterMaxFactor < c.retry.JitterMinFactor {
		return fmt.Errorf("jitter factors must satisfy 0 < min <= max, got %g/%g",
			c.retry.JitterMinFactor, c.retry.JitterMaxFactor)
	}
	if c.pollingEnabled {
		if c.pollerConfig.Interval <= 0 {
			return fmt.Errorf("poll interval must be positive, got %v", c.pollerConfig.Interval)
		}
		if c.pollerConfig.MaxWait <= 0 {
			return fmt.Errorf("poll max wait must be positive, got %v", c.pollerConfig.MaxWait)
		}
	}
	if c.httpClient == nil {
		return fmt.Errorf("http client must not be nil")
	}
	return nil
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

// ValidateConfigurationStrict panics if configuration is invalid.
func (c *Client) ValidateConfigurationStrict() {
	if err := c.validateConfiguration(); err != nil {
		panic(fmt.Sprintf("invalid client configuration: %v", err))
	}
}

func getEndpointFromRequest(req *http.Request) string {
	if req == nil || req.URL == nil {
		return "unknown"
	}

	host := req.URL.Host
	path := req.URL.Path

	var builder strings.Builder
	builder.WriteString(host)

	if path != "" && path != "/" {
		builder.WriteString(path)
	} else {
		builder.WriteByte('/')
	}

	return builder.String()
}

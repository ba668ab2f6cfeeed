package kukuh

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// AsyncPoller resolves 202 Accepted responses into their final result by
// polling the Location header until the operation completes, fails, or the
// configured maximum wait elapses.
//
// The poll loop: GET Location; 200 means complete (the polled body is the
// result); another 202 means still pending, with the response's Retry-After
// header updating the poll interval; any other status fails the operation.
// Each wait is jittered to avoid synchronized polling across callers.
type AsyncPoller struct {
	interval  time.Duration
	maxWait   time.Duration
	jitterMin float64
	jitterMax float64
	transport RoundTripper
	logger    Logger
	debug     *DebugConfig
	metrics   *MetricsCollector
}

// NewAsyncPoller creates a poller that issues status polls through
// transport. Zero config fields fall back to a 5s interval and a 300s
// maximum wait.
func NewAsyncPoller(config PollerConfig, transport RoundTripper) *AsyncPoller {
	if config.Interval <= 0 {
		config.Interval = 5 * time.Second
	}
	if config.MaxWait <= 0 {
		config.MaxWait = 300 * time.Second
	}
	return &AsyncPoller{
		interval:  config.Interval,
		maxWait:   config.MaxWait,
		jitterMin: 0.8,
		jitterMax: 1.2,
		transport: transport,
	}
}

// Await polls until the operation behind a 202 response reaches a terminal
// state. Responses other than 202 pass through untouched. A 202 without a
// Location header is returned as-is after a warning, since blocking on an
// unpollable operation would never complete; this is almost always server
// misbehavior.
//
// The wall clock is bounded by the configured maximum wait; exceeding it
// yields an AsyncTimeout error reporting the elapsed time and poll count.
// Cancelling ctx aborts the wait. The caller's original context must be
// passed explicitly: the context hanging off initial.Request is the one
// net/http manages per attempt, and with a client Timeout set it is already
// cancelled once the 202 body is closed.
func (p *AsyncPoller) Await(ctx context.Context, initial *http.Response) (*http.Response, error) {
	if initial == nil || initial.StatusCode != http.StatusAccepted {
		return initial, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	req := initial.Request
	endpoint := getEndpointFromRequest(req)

	location := initial.Header.Get("Location")
	if location == "" {
		if p.logger != nil {
			p.logger.Warn("202 response missing Location header, returning as-is",
				"endpoint", endpoint)
		}
		return initial, nil
	}

	pollURL, err := p.resolveLocation(req, location)
	if err != nil {
		return nil, &ClientError{
			Type:      ErrorTypeClient,
			Message:   fmt.Sprintf("invalid Location header %q", location),
			Cause:     err,
			Method:    req.Method,
			URL:       req.URL.String(),
			Endpoint:  endpoint,
			Timestamp: time.Now(),
		}
	}

	interval := parseRetryAfter(initial.Header.Get("Retry-After"))
	if interval == 0 {
		interval = p.interval
	}

	drainBody(initial)

	if p.logger != nil && p.debugEnabled() {
		p.logger.Info("Async operation started", "endpoint", endpoint, "location", pollURL.String())
	}

	start := time.Now()
	polls := 0

	for {
		remaining := p.maxWait - time.Since(start)
		if remaining <= 0 {
			break
		}

		wait := jitterRange(interval, p.jitterMin, p.jitterMax)
		if wait > remaining {
			wait = remaining
		}

		if p.logger != nil && p.debugEnabled() {
			p.logger.Debug("Polling async operation", "endpoint", endpoint,
				"poll", polls+1, "wait", wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		polls++
		if p.metrics != nil {
			p.metrics.RecordAsyncPoll(endpoint)
		}

		pollReq, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL.String(), nil)
		if err != nil {
			return nil, err
		}

		resp, err := p.transport.RoundTrip(pollReq)
		if err != nil {
			if p.metrics != nil {
				p.metrics.RecordAsyncOutcome(endpoint, "failed")
			}
			return nil, &ClientError{
				Type:      ErrorTypeNetwork,
				Message:   "async operation poll failed",
				Cause:     err,
				Method:    req.Method,
				URL:       pollURL.String(),
				Endpoint:  endpoint,
				Timestamp: time.Now(),
			}
		}

		switch resp.StatusCode {
		case http.StatusOK:
			if p.metrics != nil {
				p.metrics.RecordAsyncOutcome(endpoint, "complete")
			}
			if p.logger != nil && p.debugEnabled() {
				p.logger.Info("Async operation completed", "endpoint", endpoint, "polls", polls)
			}
			return resp, nil
		case http.StatusAccepted:
			if after := parseRetryAfter(resp.Header.Get("Retry-After")); after > 0 {
				interval = after
			}
			drainBody(resp)
		default:
			statusCode := resp.StatusCode
			drainBody(resp)
			if p.metrics != nil {
				p.metrics.RecordAsyncOutcome(endpoint, "failed")
			}
			return nil, &ClientError{
				Type:       classifyStatus(statusCode),
				Message:    fmt.Sprintf("async operation failed with HTTP %d", statusCode),
				Method:     req.Method,
				URL:        pollURL.String(),
				Endpoint:   endpoint,
				StatusCode: statusCode,
				Timestamp:  time.Now(),
			}
		}
	}

	elapsed := time.Since(start)
	if p.metrics != nil {
		p.metrics.RecordAsyncOutcome(endpoint, "timeout")
	}
	return nil, &ClientError{
		Type:      ErrorTypeAsyncTimeout,
		Message:   fmt.Sprintf("async operation timeout after %.1fs (%d polls)", elapsed.Seconds(), polls),
		Method:    req.Method,
		URL:       pollURL.String(),
		Endpoint:  endpoint,
		Timestamp: time.Now(),
		Duration:  elapsed,
	}
}

// resolveLocation resolves a Location header against the original request
// URL, handling both absolute and relative forms.
func (p *AsyncPoller) resolveLocation(req *http.Request, location string) (*url.URL, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, err
	}
	if u.IsAbs() || req == nil || req.URL == nil {
		return u, nil
	}
	return req.URL.ResolveReference(u), nil
}

func (p *AsyncPoller) debugEnabled() bool {
	return p.debug == nil || (p.debug.Enabled && p.debug.LogPolling)
}

// drainBody consumes and closes a response body so the underlying
// connection can be reused.
func drainBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()
}

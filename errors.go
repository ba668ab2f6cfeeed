package kukuh

import (
	"errors"
	"fmt"
	"time"
)

// Error type identifiers carried by ClientError.Type. They mirror the error
// taxonomy of the call pipeline: transient failures (network, rate limited,
// server) are retried; terminal ones propagate immediately.
const (
	ErrorTypeNetwork          = "Network"
	ErrorTypeRateLimited      = "RateLimited"
	ErrorTypeServer           = "Server"
	ErrorTypeClient           = "Client"
	ErrorTypeCircuitOpen      = "CircuitOpen"
	ErrorTypeAsyncTimeout     = "AsyncTimeout"
	ErrorTypeRetriesExhausted = "RetriesExhausted"
)

// Sentinel errors for common failure scenarios.
var (
	// ErrCircuitOpen is returned when the circuit breaker is in open state.
	// It is raised locally: no network call was made, and it does not count
	// as a new breaker failure.
	ErrCircuitOpen = errors.New("kukuh: circuit open")

	// ErrAsyncTimeout is returned when an async operation does not reach a
	// terminal state within the configured maximum wait.
	ErrAsyncTimeout = errors.New("kukuh: async operation timeout")

	// ErrRetriesExhausted is returned when all retry attempts failed.
	ErrRetriesExhausted = errors.New("kukuh: retries exhausted")
)

// ClientError is the single error type surfaced by the client. Type carries
// the taxonomy identifier; the remaining fields carry request context for
// diagnostics.
type ClientError struct {
	Type        string
	Message     string
	Cause       error
	RequestID   string
	Method      string
	URL         string
	Endpoint    string
	StatusCode  int
	Attempt     int
	MaxAttempts int
	Timestamp   time.Time
	Duration    time.Duration
}

// Error implements the error interface.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}

	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxAttempts)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is. A *ClientError target matches on
// Type; the sentinel errors match their corresponding types so callers can
// test errors.Is(err, ErrCircuitOpen) without constructing a ClientError.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*ClientError); ok {
		return e.Type == targetErr.Type
	}
	switch target {
	case ErrCircuitOpen:
		return e.Type == ErrorTypeCircuitOpen
	case ErrAsyncTimeout:
		return e.Type == ErrorTypeAsyncTimeout
	case ErrRetriesExhausted:
		return e.Type == ErrorTypeRetriesExhausted
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *ClientError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.Endpoint != "" {
		info += fmt.Sprintf("Endpoint: %s\n", e.Endpoint)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if e.Attempt > 0 {
		info += fmt.Sprintf("Attempt: %d/%d\n", e.Attempt, e.MaxAttempts)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}

// IsTransient determines if an error represents a transient failure that
// might succeed on retry. Returns true for network errors, 5xx server
// responses and rate limiting (429). Returns false for terminal 4xx client
// errors, circuit-open short circuits, timeouts and exhaustion errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		switch clientErr.Type {
		case ErrorTypeNetwork, ErrorTypeServer, ErrorTypeRateLimited:
			return true
		default:
			return false
		}
	}

	return false
}

// classifyStatus maps a terminal-path HTTP status code to an error type.
// 429 and 5xx are the retryable families; every other 4xx is terminal.
func classifyStatus(statusCode int) string {
	switch {
	case statusCode == 429:
		return ErrorTypeRateLimited
	case statusCode >= 500:
		return ErrorTypeServer
	default:
		return ErrorTypeClient
	}
}

// retryableStatus reports whether a status code is worth retrying.
func retryableStatus(statusCode int) bool {
	switch statusCode {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

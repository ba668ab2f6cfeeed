package kukuh

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPoller(interval, maxWait time.Duration) *AsyncPoller {
	p := NewAsyncPoller(PollerConfig{Interval: interval, MaxWait: maxWait},
		RoundTripperFunc(http.DefaultClient.Do))
	// Pin jitter so poll timing in tests is deterministic.
	p.jitterMin = 1.0
	p.jitterMax = 1.0
	return p
}

func acceptedResponse(t *testing.T, serverURL, location, retryAfter string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, serverURL, nil)
	require.NoError(t, err)

	resp := &http.Response{
		StatusCode: http.StatusAccepted,
		Header:     http.Header{},
		Body:       http.NoBody,
		Request:    req,
	}
	if location != "" {
		resp.Header.Set("Location", location)
	}
	if retryAfter != "" {
		resp.Header.Set("Retry-After", retryAfter)
	}
	return resp
}

func TestAsyncPollerPassesThroughNonAccepted(t *testing.T) {
	p := newTestPoller(time.Millisecond, time.Second)

	resp := &http.Response{StatusCode: http.StatusOK}
	out, err := p.Await(context.Background(), resp)
	require.NoError(t, err)
	assert.Same(t, resp, out)

	out, err = p.Await(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestAsyncPollerCompletes(t *testing.T) {
	var polls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/operations/42", r.URL.Path)
		if atomic.AddInt32(&polls, 1) < 3 {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		_, _ = w.Write([]byte(`{"result":"done"}`))
	}))
	defer server.Close()

	p := newTestPoller(5*time.Millisecond, 2*time.Second)
	resp, err := p.Await(context.Background(), acceptedResponse(t, server.URL+"/jobs", server.URL+"/operations/42", ""))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"result":"done"}`, string(body))
	assert.EqualValues(t, 3, atomic.LoadInt32(&polls))
}

func TestAsyncPollerResolvesRelativeLocation(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := newTestPoller(time.Millisecond, time.Second)
	resp, err := p.Await(context.Background(), acceptedResponse(t, server.URL+"/v1/jobs", "/v1/operations/7", ""))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "/v1/operations/7", gotPath)
}

func TestAsyncPollerMissingLocationReturnsAsIs(t *testing.T) {
	p := newTestPoller(time.Millisecond, time.Second)

	initial := acceptedResponse(t, "http://example.invalid/jobs", "", "")
	out, err := p.Await(context.Background(), initial)
	require.NoError(t, err)
	assert.Same(t, initial, out)
	assert.Equal(t, http.StatusAccepted, out.StatusCode)
}

func TestAsyncPollerTimeout(t *testing.T) {
	var polls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&polls, 1)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	p := newTestPoller(50*time.Millisecond, 200*time.Millisecond)

	start := time.Now()
	_, err := p.Await(context.Background(), acceptedResponse(t, server.URL, server.URL+"/op", ""))
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAsyncTimeout), "expected ErrAsyncTimeout, got %v", err)

	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, ErrorTypeAsyncTimeout, clientErr.Type)
	assert.Contains(t, clientErr.Message, "polls")

	// The last wait is clamped to the remaining budget, so the error lands
	// at roughly the maximum wait rather than a full interval past it.
	assert.Less(t, elapsed, 500*time.Millisecond)
	assert.Positive(t, atomic.LoadInt32(&polls))
}

func TestAsyncPollerRetryAfterUpdatesInterval(t *testing.T) {
	var polls int32
	var pollTimes []time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pollTimes = append(pollTimes, time.Now())
		if atomic.AddInt32(&polls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := newTestPoller(time.Millisecond, 5*time.Second)
	resp, err := p.Await(context.Background(), acceptedResponse(t, server.URL, server.URL+"/op", ""))
	require.NoError(t, err)
	resp.Body.Close()

	require.Len(t, pollTimes, 2)
	gap := pollTimes[1].Sub(pollTimes[0])
	assert.GreaterOrEqual(t, gap, 900*time.Millisecond,
		"second poll should respect the Retry-After interval")
}

func TestAsyncPollerInitialRetryAfterUsed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := newTestPoller(time.Millisecond, 5*time.Second)

	start := time.Now()
	resp, err := p.Await(context.Background(), acceptedResponse(t, server.URL, server.URL+"/op", "1"))
	require.NoError(t, err)
	resp.Body.Close()

	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond,
		"first poll should wait the Retry-After from the 202 response")
}

func TestAsyncPollerFailureStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "operation exploded", http.StatusInternalServerError)
	}))
	defer server.Close()

	p := newTestPoller(time.Millisecond, time.Second)
	_, err := p.Await(context.Background(), acceptedResponse(t, server.URL, server.URL+"/op", ""))
	require.Error(t, err)

	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, ErrorTypeServer, clientErr.Type)
	assert.Equal(t, http.StatusInternalServerError, clientErr.StatusCode)
}

func TestAsyncPollerTransportError(t *testing.T) {
	p := newTestPoller(time.Millisecond, time.Second)

	_, err := p.Await(context.Background(), acceptedResponse(t, "http://example.invalid/jobs",
		"http://127.0.0.1:1/op", ""))
	require.Error(t, err)

	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, ErrorTypeNetwork, clientErr.Type)
	assert.Error(t, clientErr.Unwrap())
}

func TestAsyncPollerContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())

	p := newTestPoller(5*time.Second, 30*time.Second)

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := p.Await(ctx, acceptedResponse(t, server.URL, server.URL+"/op", ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestClientAsyncEndToEnd(t *testing.T) {
	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/jobs", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))
		w.Header().Set("Location", "/operations/9")
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/operations/9", func(w http.ResponseWriter, r *http.Request) {
		// Middleware applies to polls too.
		require.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))
		if atomic.AddInt32(&polls, 1) < 2 {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		_, _ = w.Write([]byte("final result"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := New(
		WithAsyncPolling(PollerConfig{Interval: 5 * time.Millisecond, MaxWait: time.Second}),
		WithBearerAuth(StaticTokenSource("token-123")),
		WithJitterRange(1.0, 1.0),
	)

	resp, err := client.Get(context.Background(), server.URL+"/jobs")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "final result", string(body))
	assert.EqualValues(t, 2, atomic.LoadInt32(&polls))
}

func TestAsyncPollerIgnoresAttemptContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	// With a client Timeout set, net/http cancels the per-attempt context as
	// soon as the 202 body is closed. The poller must run on the caller's
	// context, not the one hanging off initial.Request.
	attemptCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, server.URL+"/jobs", nil)
	require.NoError(t, err)

	initial := &http.Response{
		StatusCode: http.StatusAccepted,
		Header:     http.Header{},
		Body:       http.NoBody,
		Request:    req,
	}
	initial.Header.Set("Location", server.URL+"/op")
	cancel()

	p := newTestPoller(time.Millisecond, time.Second)
	resp, err := p.Await(context.Background(), initial)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestClientAsyncWithClientTimeout(t *testing.T) {
	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/jobs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/operations/1")
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/operations/1", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&polls, 1) < 2 {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		_, _ = w.Write([]byte("done"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := New(
		WithTimeout(5*time.Second),
		WithAsyncPolling(PollerConfig{Interval: 5 * time.Millisecond, MaxWait: time.Second}),
		WithJitterRange(1.0, 1.0),
	)

	resp, err := client.Get(context.Background(), server.URL+"/jobs")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "done", string(body))
	assert.EqualValues(t, 2, atomic.LoadInt32(&polls))
}

func TestClientAsyncDisabled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/op")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := New(WithoutAsyncPolling())
	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

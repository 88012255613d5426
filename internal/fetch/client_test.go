package fetch

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingestd/internal/apperr"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(maxRetries int) Config {
	cfg := DefaultConfig()
	cfg.MaxRetries = maxRetries
	cfg.MinRetryInterval = time.Millisecond
	cfg.MaxRetryInterval = 5 * time.Millisecond
	cfg.Timeout = 2 * time.Second
	return cfg
}

// flakyServer answers 503 for the first failures requests, then 200 with a JSON body.
func flakyServer(t *testing.T, failures int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n <= failures {
			http.Error(w, "upstream busy", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"value":42}`)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestMiddlewareRecoversAfterThree503s(t *testing.T) {
	srv, calls := flakyServer(t, 3)
	c := New("test", testConfig(3), quietLogger(), nil)

	var out struct {
		Value int `json:"value"`
	}
	require.NoError(t, c.GetJSON(context.Background(), srv.URL, &out))
	assert.Equal(t, 42, out.Value)
	assert.Equal(t, int32(4), calls.Load())
}

func TestMiddlewareExhaustedIsServerError(t *testing.T) {
	srv, calls := flakyServer(t, 3)
	c := New("test", testConfig(2), quietLogger(), nil)

	err := c.GetJSON(context.Background(), srv.URL, nil)
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindServer, e.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, e.Status)
	assert.Equal(t, "server error (503)", e.Message)
	assert.Equal(t, int32(3), calls.Load())
}

func TestMiddlewareDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown market\n\tid", http.StatusNotFound)
	}))
	defer srv.Close()

	err := New("test", testConfig(3), quietLogger(), nil).GetJSON(context.Background(), srv.URL, nil)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindClient, e.Kind)
	assert.Equal(t, "client error (404): unknown market id", e.Message)
	assert.Equal(t, int32(1), calls.Load())
}

func TestUserAgentIsSent(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("User-Agent")
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	cfg := testConfig(0)
	cfg.UserAgent = "ingestd-test/1"
	require.NoError(t, New("test", cfg, quietLogger(), nil).GetJSON(context.Background(), srv.URL, &struct{}{}))
	assert.Equal(t, "ingestd-test/1", <-got)
}

func TestCallSiteRetrySucceeds(t *testing.T) {
	srv, calls := flakyServer(t, 2)
	c := New("test", testConfig(0), quietLogger(), nil)

	var out map[string]int
	err := c.GetJSONRetry(context.Background(), srv.URL, &out, RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 42, out["value"])
	assert.Equal(t, int32(3), calls.Load())
}

func TestCallSiteRetryBypassesMiddleware(t *testing.T) {
	srv, calls := flakyServer(t, 10)
	c := New("test", testConfig(5), quietLogger(), nil)

	err := c.GetJSONRetry(context.Background(), srv.URL, nil, RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond})
	assert.True(t, apperr.Is(err, apperr.KindServer))
	assert.Equal(t, int32(3), calls.Load())
}

func TestCallSiteDoesNotRetryNonRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusHTTPVersionNotSupported)
	}))
	defer srv.Close()

	err := New("test", testConfig(0), quietLogger(), nil).
		GetJSONRetry(context.Background(), srv.URL, nil, RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond})
	assert.True(t, apperr.Is(err, apperr.KindServer))
	assert.Equal(t, int32(1), calls.Load())
}

func TestCallSiteRetriesTimeouts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			time.Sleep(200 * time.Millisecond)
		}
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	cfg := testConfig(0)
	cfg.Timeout = 50 * time.Millisecond
	var out map[string]bool
	err := New("test", cfg, quietLogger(), nil).
		GetJSONRetry(context.Background(), srv.URL, &out, RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond})
	require.NoError(t, err)
	assert.True(t, out["ok"])
}

func TestDecodeFailureIsUnexpected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `not json`)
	}))
	defer srv.Close()

	var out map[string]any
	err := New("test", testConfig(0), quietLogger(), nil).GetJSON(context.Background(), srv.URL, &out)
	assert.True(t, apperr.Is(err, apperr.KindUnexpected))
}

func TestSanitizeBodyCapsLength(t *testing.T) {
	long := strings.Repeat("x", MaxErrorMessageLen+20)
	s := SanitizeBody([]byte(long))
	assert.Equal(t, MaxErrorMessageLen+3, len(s))
	assert.True(t, strings.HasSuffix(s, "..."))
	assert.Equal(t, "a b", SanitizeBody([]byte("  a\r\n\x00b ")))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, apperr.KindClient, Classify(429, nil).Kind)
	assert.Equal(t, "client error (429)", Classify(429, nil).Message)
	assert.Equal(t, apperr.KindServer, Classify(500, []byte("secret stack trace")).Kind)
	assert.NotContains(t, Classify(500, []byte("secret stack trace")).Message, "secret")
	assert.Equal(t, apperr.KindUnexpected, Classify(302, nil).Kind)
}

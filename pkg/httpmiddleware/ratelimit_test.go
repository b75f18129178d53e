package httpmiddleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-payments/internal/ratelimit"
)

// --- Mock implementations ---

type failingLimiter struct{}

func (failingLimiter) Check(context.Context, string, int, time.Duration) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("redis: connection refused")
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func policy(n int) RateLimitConfig {
	return RateLimitConfig{Policy: ratelimit.Policy{Max: n, Window: time.Minute}}
}

func serve(h http.Handler, remoteAddr string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/checkout", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_UnderLimit(t *testing.T) {
	handler := RateLimit(ratelimit.NewMemory(), policy(5))(okHandler())

	prev := 5
	for i := range 5 {
		w := serve(handler, "192.168.1.1:12345", nil)
		assert.Equal(t, http.StatusOK, w.Code, "request %d should pass", i+1)
		assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))

		remaining, err := strconv.Atoi(w.Header().Get("X-RateLimit-Remaining"))
		require.NoError(t, err)
		assert.Less(t, remaining, prev)
		prev = remaining
	}
}

func TestRateLimit_OverLimit(t *testing.T) {
	handler := RateLimit(ratelimit.NewMemory(), policy(2))(okHandler())

	for range 2 {
		w := serve(handler, "10.0.0.1:9999", nil)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := serve(handler, "10.0.0.1:9999", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, float64(429), body["code"])
	assert.Equal(t, "rate limit exceeded", body["message"])
}

func TestRateLimit_DifferentIPs(t *testing.T) {
	handler := RateLimit(ratelimit.NewMemory(), policy(1))(okHandler())

	assert.Equal(t, http.StatusOK, serve(handler, "10.0.0.1:1234", nil).Code)
	assert.Equal(t, http.StatusOK, serve(handler, "10.0.0.2:1234", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(handler, "10.0.0.1:5678", nil).Code)
}

func TestRateLimit_CustomKeyFunc(t *testing.T) {
	cfg := policy(1)
	cfg.KeyFunc = func(r *http.Request) string { return r.Header.Get("X-API-Key") }
	handler := RateLimit(ratelimit.NewMemory(), cfg)(okHandler())

	keyA := http.Header{"X-Api-Key": {"key-a"}}
	keyB := http.Header{"X-Api-Key": {"key-b"}}
	assert.Equal(t, http.StatusOK, serve(handler, "", keyA).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(handler, "", keyA).Code)
	assert.Equal(t, http.StatusOK, serve(handler, "", keyB).Code)
}

func TestRateLimit_XForwardedFor(t *testing.T) {
	handler := RateLimit(ratelimit.NewMemory(), policy(1))(okHandler())
	xff := http.Header{"X-Forwarded-For": {"203.0.113.50, 70.41.3.18"}}

	assert.Equal(t, http.StatusOK, serve(handler, "192.168.1.1:4444", xff).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(handler, "192.168.1.2:5555", xff).Code)
}

func TestRateLimit_PrefixSeparatesMiddlewares(t *testing.T) {
	l := ratelimit.NewMemory()
	a := policy(1)
	a.Prefix = "webhook:"
	b := policy(1)
	b.Prefix = "admin:"

	assert.Equal(t, http.StatusOK, serve(RateLimit(l, a)(okHandler()), "10.0.0.9:1", nil).Code)
	assert.Equal(t, http.StatusOK, serve(RateLimit(l, b)(okHandler()), "10.0.0.9:1", nil).Code)
}

func TestRateLimit_FailsOpen(t *testing.T) {
	handler := RateLimit(failingLimiter{}, policy(1))(okHandler())

	for range 3 {
		w := serve(handler, "10.0.0.1:1", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}

package httpmiddleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, method, path, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = remote
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestSlidingWindow(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var s slidingWindow

	for i := range 4 {
		remaining, reset, ok := s.take(base.Add(time.Duration(i)*time.Second), 4, time.Minute)
		require.True(t, ok)
		assert.Equal(t, 3-i, remaining)
		assert.Equal(t, base.Add(time.Minute), reset)
	}
	_, _, ok := s.take(base.Add(30*time.Second), 4, time.Minute)
	assert.False(t, ok, "bucket is full")

	// Just into the next bucket the previous hits still weigh almost fully.
	_, _, ok = s.take(base.Add(61*time.Second), 4, time.Minute)
	assert.True(t, ok)
	_, _, ok = s.take(base.Add(62*time.Second), 4, time.Minute)
	assert.False(t, ok)

	// Two full windows later the history is gone.
	remaining, _, ok := s.take(base.Add(3*time.Minute), 4, time.Minute)
	assert.True(t, ok)
	assert.Equal(t, 3, remaining)
}

func TestRateLimit_Rejects(t *testing.T) {
	h := RateLimit(t.Context(), RateLimitConfig{
		Rules: []RateRule{{Name: "all", Max: 2, Window: time.Minute}},
	})(okHandler())

	for range 2 {
		w := serve(h, http.MethodGet, "/api/shops", "10.0.0.1:9999")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}

	w := serve(h, http.MethodGet, "/api/shops", "10.0.0.1:9999")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	retry, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.LessOrEqual(t, retry, 60)

	var body struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, http.StatusTooManyRequests, body.Code)
	assert.Equal(t, "rate limit exceeded", body.Message)

	w = serve(h, http.MethodGet, "/api/shops", "10.0.0.2:9999")
	assert.Equal(t, http.StatusOK, w.Code, "clients are limited separately")
}

func TestRateLimit_Rules(t *testing.T) {
	h := RateLimit(t.Context(), RateLimitConfig{
		Rules: []RateRule{
			{
				Name:   "mutations",
				Max:    1,
				Window: time.Minute,
				Match:  MethodPrefix([]string{http.MethodPost}, "/api/orders", "/api/checkout"),
			},
			{Name: "default", Max: 3, Window: time.Minute},
		},
		Skip: func(r *http.Request) bool { return r.URL.Path == "/readyz" },
	})(okHandler())
	const client = "10.0.0.1:1"

	assert.Equal(t, http.StatusOK, serve(h, http.MethodPost, "/api/orders", client).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, http.MethodPost, "/api/checkout/sessions", client).Code)

	// Browsing has its own budget.
	for range 3 {
		w := serve(h, http.MethodGet, "/api/orders/1", client)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
	}
	assert.Equal(t, http.StatusTooManyRequests, serve(h, http.MethodGet, "/api/shops", client).Code)

	for range 5 {
		w := serve(h, http.MethodGet, "/readyz", client)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}

func TestRateLimit_UnmatchedPassesThrough(t *testing.T) {
	h := RateLimit(t.Context(), RateLimitConfig{
		Rules: []RateRule{{Max: 1, Window: time.Minute, Match: MethodPrefix([]string{http.MethodPost}, "/api/orders")}},
	})(okHandler())

	for range 3 {
		w := serve(h, http.MethodGet, "/api/shops", "10.0.0.1:1")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}

func TestRateLimit_Eviction(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{Rules: []RateRule{{Max: 5, Window: time.Second}}})
	now := time.Now()
	rl.take(bucketKey{client: "a"}, now)
	rl.take(bucketKey{client: "b"}, now.Add(1500*time.Millisecond))

	rl.evict(now.Add(2500 * time.Millisecond))

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.windows, bucketKey{client: "a"})
	assert.Contains(t, rl.windows, bucketKey{client: "b"})
}

func TestRateLimit_StopsEviction(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := RateLimit(ctx, RateLimitConfig{Rules: []RateRule{{Max: 1, Window: time.Millisecond}}})(okHandler())
	cancel()
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/", "10.0.0.1:1").Code)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		trust   bool
		headers map[string]string
		want    string
	}{
		{name: "remote addr", want: "192.0.2.1"},
		{name: "forged xff ignored", headers: map[string]string{"X-Forwarded-For": "203.0.113.9"}, want: "192.0.2.1"},
		{name: "trusted xff", trust: true, headers: map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, want: "203.0.113.9"},
		{name: "trusted real ip", trust: true, headers: map[string]string{"X-Real-IP": "198.51.100.7"}, want: "198.51.100.7"},
		{name: "trusted without headers", trust: true, want: "192.0.2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "192.0.2.1:4321"
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(tt.trust)(req))
		})
	}
}

package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateRule is one limit class. Requests are counted per rule and per client
// key, so a client exhausting the order placement budget can still browse.
type RateRule struct {
	Name   string
	Max    int
	Window time.Duration
	// Match selects the requests the rule applies to. Nil matches everything.
	Match func(*http.Request) bool
}

// RateLimitConfig configures the limiter. Rules are tried in order; the first
// match wins and unmatched requests pass through unlimited.
type RateLimitConfig struct {
	Rules []RateRule
	// KeyFunc identifies the client. Defaults to ClientIP(false).
	KeyFunc func(*http.Request) string
	// Skip exempts requests before rule matching.
	Skip func(*http.Request) bool
}

// slidingWindow approximates a rolling window from two fixed buckets: the
// previous bucket counts in proportion to its overlap with the rolling one.
type slidingWindow struct {
	start      time.Time
	prev, curr float64
}

// take records a hit if it fits under limit and reports the remaining budget
// and when the current bucket ends.
func (s *slidingWindow) take(now time.Time, limit int, width time.Duration) (remaining int, reset time.Time, ok bool) {
	if s.start.IsZero() {
		s.start = now.Truncate(width)
	}
	switch elapsed := now.Sub(s.start); {
	case elapsed >= 2*width:
		s.prev, s.curr = 0, 0
		s.start = now.Truncate(width)
	case elapsed >= width:
		s.prev, s.curr = s.curr, 0
		s.start = s.start.Add(width)
	}

	weight := 1 - float64(now.Sub(s.start))/float64(width)
	used := s.prev*math.Max(weight, 0) + s.curr
	reset = s.start.Add(width)
	if used >= float64(limit) {
		return 0, reset, false
	}
	s.curr++
	return max(int(float64(limit)-used-1), 0), reset, true
}

func (s *slidingWindow) expired(now time.Time, width time.Duration) bool {
	return now.Sub(s.start) >= 2*width
}

type bucketKey struct {
	rule   int
	client string
}

type rateLimiter struct {
	cfg RateLimitConfig

	mu      sync.Mutex
	windows map[bucketKey]*slidingWindow
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP(false)
	}
	return &rateLimiter{cfg: cfg, windows: make(map[bucketKey]*slidingWindow)}
}

// rule returns the index of the first rule matching r, or -1.
func (rl *rateLimiter) rule(r *http.Request) int {
	for i, rule := range rl.cfg.Rules {
		if rule.Match == nil || rule.Match(r) {
			return i
		}
	}
	return -1
}

func (rl *rateLimiter) take(k bucketKey, now time.Time) (int, time.Time, bool) {
	rule := rl.cfg.Rules[k.rule]

	rl.mu.Lock()
	defer rl.mu.Unlock()
	w, ok := rl.windows[k]
	if !ok {
		w = &slidingWindow{}
		rl.windows[k] = w
	}
	return w.take(now, rule.Max, rule.Window)
}

// evict drops windows idle for two full widths.
func (rl *rateLimiter) evict(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for k, w := range rl.windows {
		if w.expired(now, rl.cfg.Rules[k.rule].Window) {
			delete(rl.windows, k)
		}
	}
}

func (rl *rateLimiter) runEviction(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			rl.evict(now)
		}
	}
}

func (rl *rateLimiter) longestWindow() time.Duration {
	var d time.Duration
	for _, r := range rl.cfg.Rules {
		d = max(d, r.Window)
	}
	return d
}

// RateLimit enforces cfg. Allowed responses carry X-RateLimit-Limit,
// X-RateLimit-Remaining and X-RateLimit-Reset; rejected ones get 429 with
// Retry-After. Stale windows are evicted in the background until ctx ends.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	rl := newRateLimiter(cfg)
	if w := rl.longestWindow(); w > 0 {
		go rl.runEviction(ctx, 2*w)
	}
	return rl.middleware
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.cfg.Skip != nil && rl.cfg.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}
		idx := rl.rule(r)
		if idx < 0 {
			next.ServeHTTP(w, r)
			return
		}

		rule := rl.cfg.Rules[idx]
		remaining, reset, ok := rl.take(bucketKey{rule: idx, client: rl.cfg.KeyFunc(r)}, time.Now())

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(rule.Max))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		if !ok {
			wait := max(time.Until(reset), 0)
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP keys requests by client address. Forwarding headers are honoured
// only when trustProxy is set, since clients can forge them otherwise.
func ClientIP(trustProxy bool) func(*http.Request) string {
	return func(r *http.Request) string {
		if trustProxy {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				return strings.TrimSpace(first)
			}
			if xri := r.Header.Get("X-Real-IP"); xri != "" {
				return xri
			}
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		return host
	}
}

// MethodPrefix matches requests with one of methods whose path starts with
// one of prefixes.
func MethodPrefix(methods []string, prefixes ...string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		methodOK := false
		for _, m := range methods {
			if r.Method == m {
				methodOK = true
				break
			}
		}
		if !methodOK {
			return false
		}
		for _, p := range prefixes {
			if strings.HasPrefix(r.URL.Path, p) {
				return true
			}
		}
		return false
	}
}

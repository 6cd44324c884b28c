// Package health serves the /livez and /readyz probes.
//
// Checks run in the background, one goroutine per check, and the endpoints
// only read their last outcome. A check flips to unhealthy after a run of
// consecutive failures and back after a run of successes. Optional checks
// cover dependencies the service can live without (an event broker, a
// payment provider behind an open breaker): their failures are reported as
// "degraded" while the probe still answers 200.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// CheckFunc returns nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// Probe selects the endpoint a check contributes to.
type Probe int

const (
	// Liveness checks gate /livez: is the process itself working.
	Liveness Probe = iota
	// Readiness checks gate /readyz: can the service take traffic.
	Readiness
)

// Option tunes a single check.
type Option func(*check)

// Optional marks a dependency whose failure degrades the service without
// taking it out of rotation.
func Optional() Option {
	return func(c *check) { c.optional = true }
}

// Thresholds sets how many consecutive failures mark the check unhealthy and
// how many consecutive successes recover it. Defaults are 3 and 1.
func Thresholds(failures, successes int) Option {
	return func(c *check) {
		if failures > 0 {
			c.failureThreshold = failures
		}
		if successes > 0 {
			c.successThreshold = successes
		}
	}
}

// outcome is the published result of a check.
type outcome struct {
	healthy bool
	err     error
}

type check struct {
	probe            Probe
	name             string
	timeout          time.Duration
	fn               CheckFunc
	optional         bool
	failureThreshold int
	successThreshold int

	last atomic.Pointer[outcome]

	// Only touched by the goroutine running the check.
	fails, oks int
}

func (c *check) outcome() outcome {
	if o := c.last.Load(); o != nil {
		return *o
	}
	return outcome{healthy: true}
}

// run executes the check once. Calls must not overlap.
func (c *check) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.fn(ctx)
	healthy := c.outcome().healthy
	if err != nil {
		c.oks = 0
		c.fails++
		if c.fails >= c.failureThreshold {
			healthy = false
		}
	} else {
		c.fails = 0
		c.oks++
		if c.oks >= c.successThreshold {
			healthy = true
		}
	}
	c.last.Store(&outcome{healthy: healthy, err: err})
}

// Health owns the checks of one service.
type Health struct {
	ready atomic.Bool

	mu     sync.RWMutex
	checks []*check
	cancel context.CancelFunc
}

// New creates a Health that is not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

// Add registers a check. Checks added after Start are not run.
func (h *Health) Add(p Probe, name string, timeout time.Duration, fn CheckFunc, opts ...Option) {
	c := &check{
		probe:            p,
		name:             name,
		timeout:          timeout,
		fn:               fn,
		failureThreshold: 3,
		successThreshold: 1,
	}
	for _, o := range opts {
		o(c)
	}

	h.mu.Lock()
	h.checks = append(h.checks, c)
	h.mu.Unlock()
}

// Start runs every registered check now and then at each interval until
// Stop or ctx cancellation.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	checks := append([]*check(nil), h.checks...)
	h.mu.Unlock()

	for _, c := range checks {
		go func() {
			t := time.NewTicker(interval)
			defer t.Stop()
			for {
				c.run(ctx)
				select {
				case <-ctx.Done():
					return
				case <-t.C:
				}
			}
		}()
	}
}

// Stop cancels the background checks. It is idempotent.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the manual readiness gate: true once wiring is done, false
// when draining before shutdown.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports the manual gate combined with every required readiness
// check.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	failed, _ := h.failures(Readiness)
	return len(failed) == 0
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	failed, degraded := h.failures(Liveness)
	writeResponse(w, failed, degraded)
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failed, degraded := h.failures(Readiness)
	if !h.ready.Load() {
		failed["_readiness"] = "service is not ready"
	}
	writeResponse(w, failed, degraded)
}

// failures splits the unhealthy checks of a probe into required and
// optional ones, keyed by name.
func (h *Health) failures(p Probe) (failed, degraded map[string]string) {
	h.mu.RLock()
	checks := append([]*check(nil), h.checks...)
	h.mu.RUnlock()

	failed = make(map[string]string)
	degraded = make(map[string]string)
	for _, c := range checks {
		if c.probe != p {
			continue
		}
		o := c.outcome()
		if o.healthy {
			continue
		}
		msg := "check is unhealthy"
		if o.err != nil {
			msg = o.err.Error()
		}
		if c.optional {
			degraded[c.name] = msg
		} else {
			failed[c.name] = msg
		}
	}
	return failed, degraded
}

// writeResponse writes {"status":"ok"|"degraded"|"unhealthy","checks":{...}}.
// Only required failures turn the response into a 503.
func writeResponse(w http.ResponseWriter, failed, degraded map[string]string) {
	status, code := "ok", http.StatusOK
	switch {
	case len(failed) > 0:
		status, code = "unhealthy", http.StatusServiceUnavailable
	case len(degraded) > 0:
		status = "degraded"
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("status")
	e.Str(status)
	if len(failed)+len(degraded) > 0 {
		e.FieldStart("checks")
		e.ObjStart()
		writeChecks(&e, failed)
		writeChecks(&e, degraded)
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}

func writeChecks(e *jx.Encoder, m map[string]string) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		e.FieldStart(name)
		e.Str(m[name])
	}
}

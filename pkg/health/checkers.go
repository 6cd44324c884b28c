package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-faster/errors"
)

// Pinger is anything with a connectivity probe: the database pool, the
// broker publisher, the payment provider breaker.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck adapts a Pinger, prefixing its error with name.
func PingCheck(name string, p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrapf(err, "ping %s", name)
		}
		return nil
	}
}

// RuntimeLimits bounds process-level health. Zero disables a limit.
type RuntimeLimits struct {
	// Goroutines catches leaks, e.g. handlers stuck on a provider call.
	Goroutines int
	// GCPause is the longest acceptable stop-the-world pause of the most
	// recent collection.
	GCPause time.Duration
}

// RuntimeCheck reports the process unhealthy when it exceeds limits. Only the
// latest GC pause counts, so a single historical spike does not pin the
// liveness probe.
func RuntimeCheck(limits RuntimeLimits) CheckFunc {
	return func(_ context.Context) error {
		if limits.Goroutines > 0 {
			if n := runtime.NumGoroutine(); n > limits.Goroutines {
				return errors.Errorf("goroutine count %d exceeds %d", n, limits.Goroutines)
			}
		}
		if limits.GCPause > 0 {
			var stats debug.GCStats
			debug.ReadGCStats(&stats)
			if len(stats.Pause) > 0 && stats.Pause[0] > limits.GCPause {
				return errors.Errorf("last GC pause %s exceeds %s", stats.Pause[0], limits.GCPause)
			}
		}
		return nil
	}
}

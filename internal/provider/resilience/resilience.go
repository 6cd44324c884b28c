// Package resilience guards a payment.Provider with a circuit breaker and a
// bounded exponential retry.
package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/xenking/cravekart/internal/domain/payment"
)

// Config tunes the breaker and the retry.
type Config struct {
	Name string
	// MaxRequests is the number of probes let through while half-open.
	MaxRequests uint32
	// Interval is the cyclic period of the closed state counters.
	Interval time.Duration
	// Timeout is how long the breaker stays open.
	Timeout time.Duration
	// MinRequests and FailureRatio decide when the breaker trips.
	MinRequests  uint32
	FailureRatio float64

	Retries         uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// CallTimeout bounds a single attempt.
	CallTimeout time.Duration
}

// DefaultConfig returns the defaults used by the api-server.
func DefaultConfig() Config {
	return Config{
		Name:            "payment-provider",
		MaxRequests:     3,
		Interval:        15 * time.Second,
		Timeout:         30 * time.Second,
		MinRequests:     3,
		FailureRatio:    0.6,
		Retries:         3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		CallTimeout:     10 * time.Second,
	}
}

var _ payment.Provider = (*Provider)(nil)

// Provider wraps another Provider. Retrying is safe because every mutating
// call carries an idempotency key.
type Provider struct {
	next      payment.Provider
	cb        *gobreaker.CircuitBreaker
	cfg       Config
	retryable func(error) bool
	lg        *zap.Logger
}

// Wrap guards next. retryable classifies errors worth repeating; errors it
// rejects are returned at once and do not count against the breaker.
func Wrap(next payment.Provider, cfg Config, retryable func(error) bool, lg *zap.Logger) *Provider {
	if retryable == nil {
		retryable = func(error) bool { return true }
	}
	p := &Provider{next: next, cfg: cfg, retryable: retryable, lg: lg}
	p.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.Requests < cfg.MinRequests {
				return false
			}
			return float64(c.TotalFailures)/float64(c.Requests) >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !retryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn("Circuit breaker state changed",
				zap.String("circuit", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
	return p
}

// State returns the current breaker state.
func (p *Provider) State() gobreaker.State {
	return p.cb.State()
}

// Ping fails while the breaker is open, making the provider outage visible
// on the readiness probe without calling the provider.
func (p *Provider) Ping(context.Context) error {
	if st := p.cb.State(); st == gobreaker.StateOpen {
		return errors.Errorf("circuit %s is %s", p.cfg.Name, st)
	}
	return nil
}

func (p *Provider) CreateIntent(ctx context.Context, params payment.CreateIntentParams) (*payment.ProviderIntent, error) {
	return p.call(ctx, "create", func(ctx context.Context) (*payment.ProviderIntent, error) {
		return p.next.CreateIntent(ctx, params)
	})
}

func (p *Provider) RetrieveIntent(ctx context.Context, id string) (*payment.ProviderIntent, error) {
	return p.call(ctx, "retrieve", func(ctx context.Context) (*payment.ProviderIntent, error) {
		return p.next.RetrieveIntent(ctx, id)
	})
}

func (p *Provider) CancelIntent(ctx context.Context, id string) (*payment.ProviderIntent, error) {
	return p.call(ctx, "cancel", func(ctx context.Context) (*payment.ProviderIntent, error) {
		return p.next.CancelIntent(ctx, id)
	})
}

func (p *Provider) ParseWebhook(payload []byte, signature string) (*payment.WebhookEvent, error) {
	return p.next.ParseWebhook(payload, signature)
}

func (p *Provider) call(
	ctx context.Context,
	op string,
	fn func(ctx context.Context) (*payment.ProviderIntent, error),
) (*payment.ProviderIntent, error) {
	attempt := func() (*payment.ProviderIntent, error) {
		res, err := p.cb.Execute(func() (interface{}, error) {
			callCtx := ctx
			if p.cfg.CallTimeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, p.cfg.CallTimeout)
				defer cancel()
			}
			return fn(callCtx)
		})
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return nil, backoff.Permanent(errors.Wrapf(err, "circuit %s", p.cfg.Name))
		case err != nil && !p.retryable(err):
			return nil, backoff.Permanent(err)
		case err != nil:
			return nil, err
		}
		return res.(*payment.ProviderIntent), nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.cfg.InitialInterval
	eb.MaxInterval = p.cfg.MaxInterval
	b := backoff.WithContext(backoff.WithMaxRetries(eb, p.cfg.Retries), ctx)

	return backoff.RetryNotifyWithData(attempt, b, func(err error, wait time.Duration) {
		p.lg.Warn("Retrying payment provider call",
			zap.String("op", op),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
}

package payment

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/cravekart/internal/domain/order"
)

// SweepResult counts what a sweep did.
type SweepResult struct {
	Checked   int
	Confirmed int
	Cancelled int
	Failed    int
}

// Sweep reconciles orders left in payment_pending for longer than the
// pending TTL. Each is re-checked at the provider: a succeeded intent
// confirms the order, anything else cancels the intent and the order.
// A failure on one order does not stop the others.
func (c *Coordinator) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	stale, err := c.orders.ListAwaitingPayment(ctx, now.Add(-c.cfg.PendingTTL), c.cfg.SweepBatch)
	if err != nil {
		return SweepResult{}, errors.Wrap(err, "list stale orders")
	}

	var confirmed, cancelled, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.SweepConcurrency)
	for i := range stale {
		o := &stale[i]
		g.Go(func() error {
			paid, err := c.reconcileStale(gctx, o)
			switch {
			case err != nil:
				failed.Add(1)
				zctx.From(ctx).Warn("Sweep failed for order",
					zap.String("order_id", o.ID),
					zap.Error(err),
				)
			case paid:
				confirmed.Add(1)
			default:
				cancelled.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := SweepResult{
		Checked:   len(stale),
		Confirmed: int(confirmed.Load()),
		Cancelled: int(cancelled.Load()),
		Failed:    int(failed.Load()),
	}
	if res.Checked > 0 {
		zctx.From(ctx).Info("Payment sweep finished",
			zap.Int("checked", res.Checked),
			zap.Int("confirmed", res.Confirmed),
			zap.Int("cancelled", res.Cancelled),
			zap.Int("failed", res.Failed),
		)
	}
	return res, nil
}

func (c *Coordinator) reconcileStale(ctx context.Context, o *order.Order) (paid bool, err error) {
	in, err := c.intents.FindByOrder(ctx, o.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, errors.Wrap(err, "lookup intent")
	}
	if in != nil {
		pi, err := c.provider.RetrieveIntent(ctx, in.ID)
		if err != nil {
			return false, &ProviderError{Op: "retrieve intent", Err: err}
		}
		if pi.Status == StatusSucceeded {
			if _, err := c.settle(ctx, o, in, pi); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	if err := c.Abandon(ctx, o.ID); err != nil {
		return false, err
	}
	return false, nil
}

// RunSweeps sweeps every interval until ctx is done.
func (c *Coordinator) RunSweeps(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := c.Sweep(ctx, c.now()); err != nil {
				zctx.From(ctx).Error("Payment sweep", zap.Error(err))
			}
		}
	}
}

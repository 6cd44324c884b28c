package payment

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/cravekart/internal/domain/order"
	"github.com/xenking/cravekart/internal/domain/pricing"
	"github.com/xenking/cravekart/internal/events"
)

// Orders is the part of the order lifecycle the coordinator drives.
type Orders interface {
	Get(ctx context.Context, id string) (*order.Order, error)
	MarkPaid(ctx context.Context, id string) (*order.Order, error)
	CancelUnpaid(ctx context.Context, id string) (*order.Order, error)
	ListAwaitingPayment(ctx context.Context, before time.Time, limit int) ([]order.Order, error)
}

var _ Orders = (*order.Service)(nil)

// Config tunes the coordinator.
type Config struct {
	Currency         string
	PendingTTL       time.Duration
	SweepBatch       int
	SweepConcurrency int
	// ExpectedEvents sizes the webhook dedup filter.
	ExpectedEvents uint
}

// DefaultConfig returns the coordinator defaults.
func DefaultConfig() Config {
	return Config{
		Currency:         "inr",
		PendingTTL:       30 * time.Minute,
		SweepBatch:       100,
		SweepConcurrency: 4,
		ExpectedEvents:   100_000,
	}
}

// Confirmation is the result of a successful payment confirmation.
type Confirmation struct {
	Order  *order.Order
	Intent *Intent
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPublisher emits payment events to p.
func WithPublisher(p events.Publisher) Option {
	return func(c *Coordinator) { c.events = p }
}

// WithMeterProvider records payment metrics on mp.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Coordinator) { c.meter = mp.Meter("cravekart/payment") }
}

// Coordinator links orders with provider intents: it creates and confirms
// them, reconciles webhooks, and sweeps orders that were never paid.
type Coordinator struct {
	cfg      Config
	orders   Orders
	intents  Repository
	provider Provider
	events   events.Publisher
	meter    metric.Meter
	now      func() time.Time

	seenMu sync.Mutex
	seen   *bloom.BloomFilter

	outcomes metric.Int64Counter
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg Config, orders Orders, intents Repository, provider Provider, opts ...Option) (*Coordinator, error) {
	if cfg.ExpectedEvents == 0 {
		cfg.ExpectedEvents = DefaultConfig().ExpectedEvents
	}
	if cfg.SweepConcurrency <= 0 {
		cfg.SweepConcurrency = 1
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = DefaultConfig().SweepBatch
	}
	c := &Coordinator{
		cfg:      cfg,
		orders:   orders,
		intents:  intents,
		provider: provider,
		events:   events.Nop{},
		meter:    noop.NewMeterProvider().Meter("cravekart/payment"),
		now:      time.Now,
		seen:     bloom.NewWithEstimates(cfg.ExpectedEvents, 0.01),
	}
	for _, o := range opts {
		o(c)
	}

	var err error
	if c.outcomes, err = c.meter.Int64Counter("payments.outcomes",
		metric.WithDescription("Payment outcomes by result"),
	); err != nil {
		return nil, errors.Wrap(err, "create outcomes counter")
	}
	return c, nil
}

// WarmUp loads recently processed webhook event ids into the dedup filter.
func (c *Coordinator) WarmUp(ctx context.Context, limit int) error {
	ids, err := c.intents.RecentEvents(ctx, limit)
	if err != nil {
		return errors.Wrap(err, "load recent events")
	}
	c.seenMu.Lock()
	defer c.seenMu.Unlock()
	for _, id := range ids {
		c.seen.AddString(id)
	}
	return nil
}

// IdempotencyKey returns the provider idempotency key of an intent attempt.
// Retrying the same attempt reuses the key, so the provider never creates a
// second intent for it.
func IdempotencyKey(orderID string, attempt int) string {
	if attempt <= 1 {
		return fmt.Sprintf("order:%s:intent", orderID)
	}
	return fmt.Sprintf("order:%s:intent:%d", orderID, attempt)
}

// CreateIntent returns a payable intent for the order, charging the
// server-side total. A live intent is reused without calling the provider.
func (c *Coordinator) CreateIntent(ctx context.Context, orderID, currency string) (*Intent, error) {
	o, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != order.StatusPaymentPending {
		return nil, errors.Wrapf(ErrOrderNotPayable, "order is %s", o.Status)
	}
	if currency == "" {
		currency = c.cfg.Currency
	}
	currency = strings.ToLower(currency)
	amount := pricing.MinorUnits(o.Total)

	attempt := 1
	existing, err := c.intents.FindByOrder(ctx, o.ID)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, errors.Wrap(err, "lookup intent")
	case existing.Status.Reusable() && existing.Amount == amount && existing.Currency == currency:
		return existing, nil
	default:
		attempt = existing.Attempt + 1
		if existing.Status.Reusable() {
			// Currency changed: retire the old intent before replacing it.
			if _, err := c.provider.CancelIntent(ctx, existing.ID); err != nil {
				return nil, &ProviderError{Op: "cancel intent", Err: err}
			}
		}
	}

	key := IdempotencyKey(o.ID, attempt)
	pi, err := c.provider.CreateIntent(ctx, CreateIntentParams{
		Amount:         amount,
		Currency:       currency,
		Metadata:       map[string]string{"order_id": o.ID},
		IdempotencyKey: key,
	})
	if err != nil {
		c.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "provider_error")))
		return nil, &ProviderError{Op: "create intent", Err: err}
	}

	now := c.now().UTC()
	in := &Intent{
		ID:             pi.ID,
		OrderID:        o.ID,
		Amount:         pi.Amount,
		Currency:       pi.Currency,
		Status:         pi.Status,
		ClientSecret:   pi.ClientSecret,
		IdempotencyKey: key,
		Attempt:        attempt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := c.intents.Save(ctx, in); err != nil {
		return nil, errors.Wrap(err, "save intent")
	}
	zctx.From(ctx).Info("Payment intent created",
		zap.String("order_id", o.ID),
		zap.String("intent_id", in.ID),
		zap.Int64("amount", in.Amount),
		zap.Int("attempt", attempt),
	)
	return in, nil
}

// ConfirmPayment re-reads the intent at the provider and, when it succeeded
// for the right amount, moves the order to confirmed. Confirming an already
// confirmed payment returns the same result.
func (c *Coordinator) ConfirmPayment(ctx context.Context, orderID, intentID string) (*Confirmation, error) {
	o, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	in, err := c.intents.FindByID(ctx, intentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrIntentOrderMismatch
		}
		return nil, errors.Wrap(err, "lookup intent")
	}
	if in.OrderID != o.ID {
		return nil, ErrIntentOrderMismatch
	}
	if in.Status == StatusSucceeded && o.Status.Paid() {
		return &Confirmation{Order: o, Intent: in}, nil
	}

	pi, err := c.provider.RetrieveIntent(ctx, in.ID)
	if err != nil {
		return nil, &ProviderError{Op: "retrieve intent", Err: err}
	}
	return c.settle(ctx, o, in, pi)
}

// settle applies the provider outcome of an intent to the local records.
func (c *Coordinator) settle(ctx context.Context, o *order.Order, in *Intent, pi *ProviderIntent) (*Confirmation, error) {
	lg := zctx.From(ctx).With(zap.String("order_id", o.ID), zap.String("intent_id", in.ID))

	if pi.Amount != pricing.MinorUnits(o.Total) || !strings.EqualFold(pi.Currency, in.Currency) {
		lg.Error("Payment amount mismatch",
			zap.Int64("provider_amount", pi.Amount),
			zap.Int64("order_amount", pricing.MinorUnits(o.Total)),
		)
		c.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "amount_mismatch")))
		return nil, errors.Wrapf(ErrAmountMismatch, "provider %d, order %d", pi.Amount, pricing.MinorUnits(o.Total))
	}

	switch pi.Status {
	case StatusSucceeded:
		changed := in.Status != StatusSucceeded
		if changed {
			if err := c.intents.UpdateStatus(ctx, in.ID, StatusSucceeded); err != nil {
				return nil, errors.Wrap(err, "mark intent succeeded")
			}
			in.Status = StatusSucceeded
		}
		paid, err := c.orders.MarkPaid(ctx, o.ID)
		if errors.Is(err, order.ErrInvalidTransition) {
			lg.Error("Captured payment for unpayable order, refund required",
				zap.Int64("amount", pi.Amount),
				zap.Error(err),
			)
			if changed {
				c.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "refund_required")))
				e := events.New(events.PaymentRefundRequired, o.ID)
				e.Status = string(StatusSucceeded)
				e.Amount = pi.Amount
				e.Currency = pi.Currency
				c.publish(ctx, e)
			}
			return nil, errors.Wrap(ErrOrderNotPayable, err.Error())
		}
		if err != nil {
			return nil, errors.Wrap(err, "mark order paid")
		}
		if changed {
			c.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "succeeded")))
			e := events.New(events.PaymentSucceeded, o.ID)
			e.Amount = pi.Amount
			e.Currency = pi.Currency
			c.publish(ctx, e)
		}
		return &Confirmation{Order: paid, Intent: in}, nil

	case StatusFailed, StatusCancelled:
		if in.Status != pi.Status {
			if err := c.intents.UpdateStatus(ctx, in.ID, pi.Status); err != nil {
				return nil, errors.Wrap(err, "update intent status")
			}
			in.Status = pi.Status
			c.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", string(pi.Status))))
			e := events.New(events.PaymentFailed, o.ID)
			e.Status = string(pi.Status)
			e.Amount = pi.Amount
			e.Currency = pi.Currency
			c.publish(ctx, e)
		}
		return nil, &NotConfirmedError{Status: pi.Status}

	default:
		return nil, &NotConfirmedError{Status: pi.Status}
	}
}

// Abandon cancels the live intent of an unpaid order and the order itself.
func (c *Coordinator) Abandon(ctx context.Context, orderID string) error {
	in, err := c.intents.FindByOrder(ctx, orderID)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return errors.Wrap(err, "lookup intent")
	case in.Status.Reusable():
		if _, err := c.provider.CancelIntent(ctx, in.ID); err != nil {
			return &ProviderError{Op: "cancel intent", Err: err}
		}
		if err := c.intents.UpdateStatus(ctx, in.ID, StatusCancelled); err != nil {
			return errors.Wrap(err, "mark intent cancelled")
		}
	}

	if _, err := c.orders.CancelUnpaid(ctx, orderID); err != nil {
		return errors.Wrap(err, "cancel order")
	}
	return nil
}

// HandleEvent reconciles a verified webhook event. Redelivered events are
// skipped; every handler is idempotent, so a duplicate slipping past the
// dedup check is harmless.
func (c *Coordinator) HandleEvent(ctx context.Context, ev *WebhookEvent) error {
	lg := zctx.From(ctx).With(zap.String("event_id", ev.ID), zap.String("event_type", ev.Type))

	dup, err := c.processed(ctx, ev.ID)
	if err != nil {
		return err
	}
	if dup {
		lg.Debug("Skipping duplicate webhook event")
		return nil
	}

	switch ev.Type {
	case EventIntentSucceeded, EventIntentFailed, EventIntentCanceled:
		if err := c.reconcileEvent(ctx, ev); err != nil {
			return err
		}
	default:
		lg.Debug("Ignoring webhook event")
	}

	if err := c.intents.RecordEvent(ctx, ev.ID, ev.Type); err != nil {
		return errors.Wrap(err, "record event")
	}
	c.seenMu.Lock()
	c.seen.AddString(ev.ID)
	c.seenMu.Unlock()
	return nil
}

func (c *Coordinator) processed(ctx context.Context, eventID string) (bool, error) {
	c.seenMu.Lock()
	maybe := c.seen.TestString(eventID)
	c.seenMu.Unlock()
	if !maybe {
		return false, nil
	}
	ok, err := c.intents.EventProcessed(ctx, eventID)
	if err != nil {
		return false, errors.Wrap(err, "check event")
	}
	return ok, nil
}

func (c *Coordinator) reconcileEvent(ctx context.Context, ev *WebhookEvent) error {
	in, err := c.intents.FindByID(ctx, ev.Intent.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			zctx.From(ctx).Warn("Webhook for unknown intent", zap.String("intent_id", ev.Intent.ID))
			return nil
		}
		return errors.Wrap(err, "lookup intent")
	}
	if id := ev.Intent.Metadata["order_id"]; id != "" && id != in.OrderID {
		return errors.Wrapf(ErrIntentOrderMismatch, "event order %s, intent order %s", id, in.OrderID)
	}
	o, err := c.orders.Get(ctx, in.OrderID)
	if err != nil {
		return errors.Wrap(err, "lookup order")
	}

	pi := ev.Intent
	if pi.Currency == "" {
		pi.Currency = in.Currency
	}
	switch ev.Type {
	case EventIntentFailed:
		pi.Status = StatusFailed
	case EventIntentCanceled:
		pi.Status = StatusCancelled
	default:
		pi.Status = StatusSucceeded
	}

	_, err = c.settle(ctx, o, in, &pi)
	if errors.Is(err, ErrOrderNotPayable) {
		// Flagged for refund; redelivery would change nothing.
		return nil
	}
	if errors.Is(err, ErrNotConfirmed) {
		if pi.Status == StatusCancelled {
			if _, err := c.orders.CancelUnpaid(ctx, o.ID); err != nil && !errors.Is(err, order.ErrInvalidTransition) {
				return errors.Wrap(err, "cancel order")
			}
		}
		return nil
	}
	return err
}

func (c *Coordinator) publish(ctx context.Context, e events.Event) {
	if err := c.events.Publish(ctx, e); err != nil {
		zctx.From(ctx).Warn("Failed to publish event",
			zap.String("type", string(e.Type)),
			zap.String("order_id", e.OrderID),
			zap.Error(err),
		)
	}
}

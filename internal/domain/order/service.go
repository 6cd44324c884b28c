package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/cravekart/internal/domain/offer"
	"github.com/xenking/cravekart/internal/domain/pricing"
	"github.com/xenking/cravekart/internal/events"
)

// maxVersionRetries bounds the reload-and-retry loop of system transitions.
const maxVersionRetries = 3

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	CustomerID string
	ShopID     string
	Items      []LineRequest
	// SubmittedTotal is the total the client displayed. Absent skips the check.
	SubmittedTotal decimal.NullDecimal
	Address        string
	OfferID        string
	// CheckoutKey makes placement idempotent: replaying a key returns the
	// order created by the first request.
	CheckoutKey string
}

// Option configures a Service.
type Option func(*Service)

// WithMeterProvider records order metrics on mp.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meter = mp.Meter("cravekart/order") }
}

// WithPublisher emits lifecycle events to p.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

// Service encapsulates the order lifecycle.
type Service struct {
	validator *Validator
	pricing   *pricing.Calculator
	offers    offer.Validator
	orders    Repository
	events    events.Publisher
	meter     metric.Meter
	now       func() time.Time

	placed      metric.Int64Counter
	transitions metric.Int64Counter
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	validator *Validator,
	calc *pricing.Calculator,
	offers offer.Validator,
	orders Repository,
	opts ...Option,
) (*Service, error) {
	s := &Service{
		validator: validator,
		pricing:   calc,
		offers:    offers,
		orders:    orders,
		events:    events.Nop{},
		meter:     noop.NewMeterProvider().Meter("cravekart/order"),
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}

	var err error
	if s.placed, err = s.meter.Int64Counter("orders.placed",
		metric.WithDescription("Orders created"),
	); err != nil {
		return nil, errors.Wrap(err, "create placed counter")
	}
	if s.transitions, err = s.meter.Int64Counter("orders.transitions",
		metric.WithDescription("Order status changes"),
	); err != nil {
		return nil, errors.Wrap(err, "create transitions counter")
	}
	return s, nil
}

// Pricing returns the calculator used for authoritative totals.
func (s *Service) Pricing() *pricing.Calculator {
	return s.pricing
}

// Quote prices items the same way PlaceOrder will.
func (s *Service) Quote(ctx context.Context, shopID string, items []Item, offerID string) (pricing.Breakdown, error) {
	cut := decimal.Zero
	if offerID != "" {
		d, err := s.offers.Validate(ctx, offerID, shopID, offerItems(items))
		if err != nil {
			return pricing.Breakdown{}, errors.Wrap(err, "validate offer")
		}
		cut = d.Amount
	}
	return s.pricing.CalculateWithOffer(Subtotal(items), cut)
}

// PlaceOrder validates the request, prices it server-side, and persists the
// order. Nothing is written when any check fails.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Order, error) {
	if req.CheckoutKey != "" {
		existing, err := s.replay(ctx, req)
		if err != nil || existing != nil {
			return existing, err
		}
	}

	items, err := s.validator.Validate(ctx, req.CustomerID, req.ShopID, req.Items)
	if err != nil {
		return nil, err
	}

	b, err := s.Quote(ctx, req.ShopID, items, req.OfferID)
	if err != nil {
		return nil, err
	}
	if err := s.pricing.Verify(req.SubmittedTotal, b); err != nil {
		return nil, err
	}

	status := StatusPaymentPending
	if pricing.MinorUnits(b.Total) == 0 {
		status = StatusPending
	}

	now := s.now().UTC()
	o := &Order{
		ID:          uuid.NewString(),
		CustomerID:  req.CustomerID,
		ShopID:      req.ShopID,
		Items:       items,
		Subtotal:    b.Subtotal.Round(2),
		OfferID:     req.OfferID,
		OfferCut:    b.OfferDiscount.Round(2),
		Discount:    b.Discount.Round(2),
		Tax:         b.Tax.Round(2),
		DeliveryFee: b.DeliveryFee.Round(2),
		Total:       b.Total.Round(2),
		Address:     req.Address,
		Status:      status,
		Version:     1,
		CheckoutKey: req.CheckoutKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		if errors.Is(err, ErrDuplicateCheckoutKey) {
			// Lost the race against a concurrent request with the same key.
			prev, rerr := s.replay(ctx, req)
			if rerr != nil {
				return nil, rerr
			}
			if prev == nil {
				return nil, errors.Wrap(err, "create order")
			}
			return prev, nil
		}
		return nil, errors.Wrap(err, "create order")
	}

	if o.OfferID != "" {
		if err := s.offers.Redeem(ctx, o.OfferID); err != nil {
			zctx.From(ctx).Warn("Failed to redeem offer",
				zap.String("order_id", o.ID),
				zap.String("offer_id", o.OfferID),
				zap.Error(err),
			)
		}
	}

	s.placed.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(o.Status))))
	e := events.New(events.OrderCreated, o.ID)
	e.CustomerID = o.CustomerID
	e.ShopID = o.ShopID
	e.Status = string(o.Status)
	e.Amount = pricing.MinorUnits(o.Total)
	s.publish(ctx, e)

	return o, nil
}

func (s *Service) replay(ctx context.Context, req PlaceOrderRequest) (*Order, error) {
	o, err := s.orders.FindByCheckoutKey(ctx, req.CheckoutKey)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, errors.Wrap(err, "lookup checkout key")
	case o.CustomerID != req.CustomerID:
		return nil, ErrCheckoutKeyReused
	default:
		return o, nil
	}
}

// Get returns an order by id.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	if err := checkID("order", id); err != nil {
		return nil, err
	}
	return s.orders.FindByID(ctx, id)
}

// ListByCustomer returns the orders of a customer, newest first. Rows that
// do not belong to the customer are dropped even if the store returns them.
func (s *Service) ListByCustomer(ctx context.Context, customerID string) ([]Order, error) {
	if err := checkID("customer", customerID); err != nil {
		return nil, err
	}
	all, err := s.orders.FindByCustomer(ctx, customerID)
	if err != nil {
		return nil, errors.Wrap(err, "list customer orders")
	}
	return filter(all, func(o *Order) bool { return o.CustomerID == customerID }), nil
}

// ListByShop returns the orders placed at a shop, newest first.
func (s *Service) ListByShop(ctx context.Context, shopID string) ([]Order, error) {
	if err := checkID("shop", shopID); err != nil {
		return nil, err
	}
	all, err := s.orders.FindByShop(ctx, shopID)
	if err != nil {
		return nil, errors.Wrap(err, "list shop orders")
	}
	return filter(all, func(o *Order) bool { return o.ShopID == shopID }), nil
}

// UpdateStatus applies an operator status change. The caller must supply the
// version it last saw. Confirmation of an unpaid order is reserved to the
// payment flow.
func (s *Service) UpdateStatus(ctx context.Context, id string, next Status, expectedVersion int) (*Order, error) {
	if _, err := ParseStatus(string(next)); err != nil {
		return nil, err
	}
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status == StatusPaymentPending && next == StatusConfirmed {
		return nil, &InvalidTransitionError{From: o.Status, To: next}
	}
	if !o.Status.CanTransitionTo(next) {
		return nil, &InvalidTransitionError{From: o.Status, To: next}
	}
	if o.Version != expectedVersion {
		return nil, ErrVersionConflict
	}
	return s.write(ctx, o, next, expectedVersion)
}

// MarkPaid moves a payment_pending order to confirmed. Orders already past
// payment are returned unchanged.
func (s *Service) MarkPaid(ctx context.Context, id string) (*Order, error) {
	return s.systemTransition(ctx, id, StatusConfirmed, func(st Status) bool { return st.Paid() })
}

// CancelUnpaid cancels an order that is still waiting for payment. Already
// cancelled orders are returned unchanged.
func (s *Service) CancelUnpaid(ctx context.Context, id string) (*Order, error) {
	return s.systemTransition(ctx, id, StatusCancelled, func(st Status) bool { return st == StatusCancelled })
}

// ListAwaitingPayment returns up to limit payment_pending orders created
// before the given time.
func (s *Service) ListAwaitingPayment(ctx context.Context, before time.Time, limit int) ([]Order, error) {
	return s.orders.ListByStatusBefore(ctx, StatusPaymentPending, before, limit)
}

// systemTransition moves a payment_pending order to next, reloading on
// version conflicts. done reports statuses that already satisfy the call.
func (s *Service) systemTransition(ctx context.Context, id string, next Status, done func(Status) bool) (*Order, error) {
	for attempt := 0; ; attempt++ {
		o, err := s.orders.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if done(o.Status) {
			return o, nil
		}
		if o.Status != StatusPaymentPending {
			return nil, &InvalidTransitionError{From: o.Status, To: next}
		}
		updated, err := s.write(ctx, o, next, o.Version)
		if errors.Is(err, ErrVersionConflict) && attempt < maxVersionRetries {
			continue
		}
		return updated, err
	}
}

func (s *Service) write(ctx context.Context, o *Order, next Status, version int) (*Order, error) {
	updated, err := s.orders.UpdateStatus(ctx, o.ID, next, version)
	if err != nil {
		if errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "update status")
	}

	s.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(o.Status)),
		attribute.String("to", string(next)),
	))
	e := events.New(events.OrderStatusChanged, updated.ID)
	e.CustomerID = updated.CustomerID
	e.ShopID = updated.ShopID
	e.Status = string(updated.Status)
	s.publish(ctx, e)

	return updated, nil
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		zctx.From(ctx).Warn("Failed to publish event",
			zap.String("type", string(e.Type)),
			zap.String("order_id", e.OrderID),
			zap.Error(err),
		)
	}
}

func offerItems(items []Item) []offer.Item {
	out := make([]offer.Item, len(items))
	for i, it := range items {
		out[i] = offer.Item{FoodItemID: it.FoodItemID, Price: it.UnitPrice, Quantity: it.Quantity}
	}
	return out
}

func filter(orders []Order, keep func(*Order) bool) []Order {
	out := make([]Order, 0, len(orders))
	for i := range orders {
		if keep(&orders[i]) {
			out = append(out, orders[i])
		}
	}
	return out
}

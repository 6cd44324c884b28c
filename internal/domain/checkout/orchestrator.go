package checkout

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/cravekart/internal/domain/fooditem"
	"github.com/xenking/cravekart/internal/domain/order"
	"github.com/xenking/cravekart/internal/domain/payment"
	"github.com/xenking/cravekart/internal/domain/pricing"
	"github.com/xenking/cravekart/internal/domain/user"
)

// Orders is the order lifecycle as used by checkout.
type Orders interface {
	Get(ctx context.Context, id string) (*order.Order, error)
	Quote(ctx context.Context, shopID string, items []order.Item, offerID string) (pricing.Breakdown, error)
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.Order, error)
}

// Payments is the payment coordination as used by checkout.
type Payments interface {
	CreateIntent(ctx context.Context, orderID, currency string) (*payment.Intent, error)
	ConfirmPayment(ctx context.Context, orderID, intentID string) (*payment.Confirmation, error)
	Abandon(ctx context.Context, orderID string) error
}

var (
	_ Orders   = (*order.Service)(nil)
	_ Payments = (*payment.Coordinator)(nil)
)

// SubmitRequest is the details step input.
type SubmitRequest struct {
	Details Details
	OfferID string
	// Currency of the payment intent. Empty uses the coordinator default.
	Currency string
	// DisplayedTotal is the total shown to the customer. Absent skips the check.
	DisplayedTotal decimal.NullDecimal
}

// Orchestrator runs the checkout state machine over a Store.
type Orchestrator struct {
	store    Store
	users    user.Repository
	foods    fooditem.Repository
	orders   Orders
	payments Payments
	now      func() time.Time
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(store Store, users user.Repository, foods fooditem.Repository, orders Orders, payments Payments) *Orchestrator {
	return &Orchestrator{
		store:    store,
		users:    users,
		foods:    foods,
		orders:   orders,
		payments: payments,
		now:      time.Now,
	}
}

// Create opens a new session for a customer.
func (o *Orchestrator) Create(ctx context.Context, customerID string) (*Session, error) {
	if _, err := uuid.Parse(customerID); err != nil {
		return nil, &order.InvalidIdentifierError{Field: "customer", Value: customerID}
	}
	if _, err := o.users.FindByID(ctx, customerID); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, &order.CustomerNotFoundError{ID: customerID}
		}
		return nil, errors.Wrap(err, "lookup customer")
	}
	s := &Session{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		State:      StateDetails,
	}
	if err := o.save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns a session.
func (o *Orchestrator) Get(ctx context.Context, id string) (*Session, error) {
	return o.store.Get(ctx, id)
}

// SetItem sets the quantity of a food item in the cart. A quantity of zero
// or less removes it.
func (o *Orchestrator) SetItem(ctx context.Context, id, foodItemID string, qty int) (*Session, error) {
	s, err := o.editable(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(foodItemID); err != nil {
		return nil, &order.InvalidIdentifierError{Field: "food item", Value: foodItemID}
	}
	f, err := o.foods.FindByID(ctx, foodItemID)
	if err != nil {
		if errors.Is(err, fooditem.ErrNotFound) {
			return nil, &order.FoodItemNotFoundError{ID: foodItemID}
		}
		return nil, errors.Wrap(err, "lookup food item")
	}
	if qty > 0 {
		if !f.Available {
			return nil, ErrItemUnavailable
		}
		if s.ShopID != "" && s.ShopID != f.ShopID {
			return nil, ErrDifferentShop
		}
	}

	s.setQuantity(CartItem{
		FoodItemID: f.ID,
		ShopID:     f.ShopID,
		Name:       f.Name,
		UnitPrice:  f.Price,
	}, qty)
	if err := o.save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// ClearCart empties the cart.
func (o *Orchestrator) ClearCart(ctx context.Context, id string) (*Session, error) {
	s, err := o.editable(ctx, id)
	if err != nil {
		return nil, err
	}
	s.clearCart()
	if err := o.save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Quote prices the cart with the server-side calculator.
func (o *Orchestrator) Quote(ctx context.Context, id, offerID string) (pricing.Breakdown, error) {
	s, err := o.store.Get(ctx, id)
	if err != nil {
		return pricing.Breakdown{}, err
	}
	if offerID == "" {
		offerID = s.OfferID
	}
	return o.orders.Quote(ctx, s.ShopID, orderItems(s.Items), offerID)
}

// SubmitDetails validates the delivery form, places the order (or reuses the
// one already placed for the identical cart) and creates its payment
// intent. Form and order validation failures leave the session in details;
// a provider failure moves it to failed.
func (o *Orchestrator) SubmitDetails(ctx context.Context, id string, req SubmitRequest) (*Session, error) {
	s, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.State != StateDetails {
		return nil, errors.Wrapf(ErrInvalidState, "cannot submit details in %s", s.State)
	}
	if len(s.Items) == 0 {
		return nil, ErrEmptyCart
	}

	d := req.Details.Normalize()
	if err := d.Validate(); err != nil {
		return nil, o.recoverable(ctx, s, err)
	}
	s.Details = &d
	s.OfferID = req.OfferID

	ord, err := o.ensureOrder(ctx, s, req.DisplayedTotal)
	if err != nil {
		return nil, o.recoverable(ctx, s, err)
	}

	if ord.Status == order.StatusPending || ord.Status.Paid() {
		// Nothing (left) to charge.
		o.succeed(s)
		if err := o.save(ctx, s); err != nil {
			return nil, err
		}
		return s, nil
	}

	s.State = StatePaymentIntentPending
	s.LastError = ""
	if err := o.save(ctx, s); err != nil {
		return nil, err
	}

	in, err := o.payments.CreateIntent(ctx, ord.ID, req.Currency)
	if err != nil {
		zctx.From(ctx).Warn("Payment intent creation failed",
			zap.String("session_id", s.ID),
			zap.String("order_id", ord.ID),
			zap.Error(err),
		)
		return nil, o.fail(ctx, s, err)
	}

	s.IntentID = in.ID
	s.ClientSecret = in.ClientSecret
	s.Amount = in.Amount
	s.Currency = in.Currency
	s.State = StatePaymentInProgress
	if err := o.save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// ensureOrder returns the order for the current cart. An order placed for
// the same cart is reused; one placed for another cart is abandoned first.
// A previous order that was already paid, or needed no payment, is returned
// as is whatever the cart now holds: the checkout is over.
func (o *Orchestrator) ensureOrder(ctx context.Context, s *Session, displayed decimal.NullDecimal) (*order.Order, error) {
	fp := s.Fingerprint()

	if s.OrderID != "" {
		prev, err := o.orders.Get(ctx, s.OrderID)
		if err != nil {
			return nil, errors.Wrap(err, "lookup previous order")
		}
		switch {
		case prev.Status.Paid() || prev.Status == order.StatusPending:
			return prev, nil
		case s.CartFingerprint == fp && prev.Status == order.StatusPaymentPending:
			return prev, nil
		case prev.Status == order.StatusPaymentPending:
			if err := o.payments.Abandon(ctx, prev.ID); err != nil {
				return nil, errors.Wrap(err, "abandon previous order")
			}
		}
		// The previous order is gone (abandoned, swept or cancelled): the
		// next placement needs a fresh idempotency key.
		s.OrderAttempt++
		s.OrderID = ""
		s.IntentID = ""
		s.ClientSecret = ""
		s.Amount = 0
	}
	if s.OrderAttempt == 0 {
		s.OrderAttempt = 1
	}

	lines := make([]order.LineRequest, len(s.Items))
	for i, it := range s.Items {
		lines[i] = order.LineRequest{FoodItemID: it.FoodItemID, Quantity: it.Quantity}
	}
	ord, err := o.orders.PlaceOrder(ctx, order.PlaceOrderRequest{
		CustomerID:     s.CustomerID,
		ShopID:         s.ShopID,
		Items:          lines,
		SubmittedTotal: displayed,
		Address:        s.Details.FullAddress(),
		OfferID:        s.OfferID,
		CheckoutKey:    s.CheckoutKey(fp),
	})
	if err != nil {
		return nil, err
	}
	s.OrderID = ord.ID
	s.CartFingerprint = fp
	return ord, nil
}

// CompletePayment confirms the payment of the session's intent. On success
// the cart is cleared; repeating the call returns the same session.
func (o *Orchestrator) CompletePayment(ctx context.Context, id, intentID string) (*Session, error) {
	s, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.State == StateSuccess && s.IntentID == intentID {
		return s, nil
	}
	if s.State != StatePaymentInProgress {
		return nil, errors.Wrapf(ErrInvalidState, "cannot complete payment in %s", s.State)
	}
	if intentID != s.IntentID {
		return nil, payment.ErrIntentOrderMismatch
	}

	if _, err := o.payments.ConfirmPayment(ctx, s.OrderID, intentID); err != nil {
		if errors.Is(err, payment.ErrNotConfirmed) || errors.Is(err, payment.ErrAmountMismatch) {
			return nil, o.fail(ctx, s, err)
		}
		return nil, err
	}

	o.succeed(s)
	if err := o.save(ctx, s); err != nil {
		if errors.Is(err, ErrSessionConflict) {
			// A concurrent completion may have won; report its outcome.
			if cur, gerr := o.store.Get(ctx, id); gerr == nil && cur.State == StateSuccess {
				return cur, nil
			}
		}
		return nil, err
	}
	return s, nil
}

// Back returns from payment to details, keeping the intent for reuse. Once
// the order is paid there is nothing to go back to.
func (o *Orchestrator) Back(ctx context.Context, id string) (*Session, error) {
	return o.move(ctx, id, []State{StatePaymentInProgress}, o.unpaid)
}

// Retry returns a failed checkout to details with the cart preserved. A
// session left in payment_intent_pending by an interrupted submit can retry
// too: resubmitting reuses the placed order and its intent.
func (o *Orchestrator) Retry(ctx context.Context, id string) (*Session, error) {
	return o.move(ctx, id, []State{StateFailed, StatePaymentIntentPending}, nil)
}

// unpaid rejects sessions whose order has already been paid.
func (o *Orchestrator) unpaid(ctx context.Context, s *Session) error {
	if s.OrderID == "" {
		return nil
	}
	ord, err := o.orders.Get(ctx, s.OrderID)
	if err != nil {
		return errors.Wrap(err, "lookup order")
	}
	if ord.Status.Paid() {
		return errors.Wrapf(ErrInvalidState, "order %s is already %s", ord.ID, ord.Status)
	}
	return nil
}

// move switches the session to details from one of the given states.
func (o *Orchestrator) move(
	ctx context.Context,
	id string,
	from []State,
	check func(context.Context, *Session) error,
) (*Session, error) {
	s, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(from, s.State) {
		return nil, errors.Wrapf(ErrInvalidState, "cannot go back to details from %s", s.State)
	}
	if check != nil {
		if err := check(ctx, s); err != nil {
			return nil, err
		}
	}
	s.State = StateDetails
	s.LastError = ""
	if err := o.save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (o *Orchestrator) editable(ctx context.Context, id string) (*Session, error) {
	s, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.State != StateDetails && s.State != StateFailed {
		return nil, errors.Wrapf(ErrInvalidState, "cart is locked in %s", s.State)
	}
	return s, nil
}

func (o *Orchestrator) succeed(s *Session) {
	s.clearCart()
	s.State = StateSuccess
	s.Completed = true
	s.LastError = ""
}

// recoverable records cause on the session, which stays in details.
func (o *Orchestrator) recoverable(ctx context.Context, s *Session, cause error) error {
	s.State = StateDetails
	s.LastError = cause.Error()
	if err := o.save(ctx, s); err != nil {
		return errors.Wrap(err, cause.Error())
	}
	return cause
}

// fail moves the session to failed with cause recorded.
func (o *Orchestrator) fail(ctx context.Context, s *Session, cause error) error {
	s.State = StateFailed
	s.LastError = cause.Error()
	if err := o.save(ctx, s); err != nil {
		return errors.Wrap(err, cause.Error())
	}
	return cause
}

func (o *Orchestrator) save(ctx context.Context, s *Session) error {
	s.UpdatedAt = o.now().UTC()
	return o.store.Save(ctx, s)
}

func orderItems(items []CartItem) []order.Item {
	out := make([]order.Item, len(items))
	for i, it := range items {
		out[i] = order.Item{
			FoodItemID: it.FoodItemID,
			Name:       it.Name,
			UnitPrice:  it.UnitPrice,
			Quantity:   it.Quantity,
			Price:      it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))),
		}
	}
	return out
}

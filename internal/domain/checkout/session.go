// Package checkout drives a customer cart through details entry, payment
// intent creation and payment confirmation.
package checkout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// State is a checkout step.
type State string

const (
	StateDetails              State = "details"
	StatePaymentIntentPending State = "payment_intent_pending"
	StatePaymentInProgress    State = "payment_in_progress"
	StateSuccess              State = "success"
	StateFailed               State = "failed"
)

var (
	// ErrSessionNotFound is returned for an unknown session id.
	ErrSessionNotFound = errors.New("checkout session not found")
	// ErrSessionConflict is returned when a session changed since it was read.
	ErrSessionConflict = errors.New("checkout session was modified concurrently")
	// ErrInvalidState is returned when an operation is not allowed in the
	// current step.
	ErrInvalidState = errors.New("operation not allowed in current checkout state")
	// ErrDifferentShop is returned when adding an item from another shop to
	// a non-empty cart.
	ErrDifferentShop = errors.New("cart holds items from a different shop")
	// ErrEmptyCart is returned when submitting details for an empty cart.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrItemUnavailable is returned for food items the shop stopped selling.
	ErrItemUnavailable = errors.New("food item is unavailable")
)

// CartItem is a snapshot of a food item in the cart.
type CartItem struct {
	FoodItemID string          `json:"food_item_id"`
	ShopID     string          `json:"shop_id"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Quantity   int             `json:"quantity"`
}

// Session is the server-side state of one checkout.
type Session struct {
	ID              string     `json:"id"`
	CustomerID      string     `json:"customer_id"`
	ShopID          string     `json:"shop_id,omitempty"`
	Items           []CartItem `json:"items"`
	State           State      `json:"state"`
	Details         *Details   `json:"details,omitempty"`
	OfferID         string     `json:"offer_id,omitempty"`
	OrderID         string     `json:"order_id,omitempty"`
	OrderAttempt    int        `json:"order_attempt,omitempty"`
	CartFingerprint string     `json:"cart_fingerprint,omitempty"`
	IntentID        string     `json:"intent_id,omitempty"`
	ClientSecret    string     `json:"client_secret,omitempty"`
	Amount          int64      `json:"amount,omitempty"`
	Currency        string     `json:"currency,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	Completed       bool       `json:"completed"`
	// Version is bumped by every successful Store.Save.
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists sessions with optimistic concurrency. Sessions are never
// deleted explicitly: stores expire them after their TTL.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	// Save writes s if the stored version still equals s.Version (zero for a
	// new session) and increments s.Version. Otherwise it returns
	// ErrSessionConflict.
	Save(ctx context.Context, s *Session) error
}

// Fingerprint identifies the cart contents and applied offer. Two carts with
// the same items and quantities share a fingerprint regardless of order.
func (s *Session) Fingerprint() string {
	lines := make([]string, len(s.Items))
	for i, it := range s.Items {
		lines[i] = it.FoodItemID + ":" + strconv.Itoa(it.Quantity)
	}
	sort.Strings(lines)

	h := sha256.New()
	h.Write([]byte(s.ShopID))
	for _, l := range lines {
		h.Write([]byte{'|'})
		h.Write([]byte(l))
	}
	h.Write([]byte{'#'})
	h.Write([]byte(s.OfferID))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// CheckoutKey is the order idempotency key of the current cart.
func (s *Session) CheckoutKey(fingerprint string) string {
	key := "checkout:" + s.ID + ":" + fingerprint
	if s.OrderAttempt > 1 {
		key += ":" + strconv.Itoa(s.OrderAttempt)
	}
	return key
}

func (s *Session) itemCount() int {
	n := 0
	for _, it := range s.Items {
		n += it.Quantity
	}
	return n
}

func (s *Session) clearCart() {
	s.Items = nil
	s.ShopID = ""
	s.OfferID = ""
}

func (s *Session) setQuantity(item CartItem, qty int) {
	for i := range s.Items {
		if s.Items[i].FoodItemID != item.FoodItemID {
			continue
		}
		if qty <= 0 {
			s.Items = append(s.Items[:i], s.Items[i+1:]...)
		} else {
			s.Items[i].Quantity = qty
			s.Items[i].UnitPrice = item.UnitPrice
			s.Items[i].Name = item.Name
		}
		if len(s.Items) == 0 {
			s.clearCart()
		}
		return
	}
	if qty > 0 {
		item.Quantity = qty
		s.Items = append(s.Items, item)
		s.ShopID = item.ShopID
	}
}

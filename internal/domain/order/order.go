package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Order is a placed customer order. Items and pricing are captured at
// creation and never change; only Status and Version move afterwards.
type Order struct {
	ID          string
	CustomerID  string
	ShopID      string
	Items       []Item
	Subtotal    decimal.Decimal
	OfferID     string
	OfferCut    decimal.Decimal
	Discount    decimal.Decimal
	Tax         decimal.Decimal
	DeliveryFee decimal.Decimal
	Total       decimal.Decimal
	Address     string
	Status      Status
	Version     int
	CheckoutKey string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Item is a line of an order with the price captured at placement.
type Item struct {
	FoodItemID string          `json:"food_item_id"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Quantity   int             `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create inserts a new order. It returns ErrDuplicateCheckoutKey when an
	// order with the same non-empty checkout key already exists.
	Create(ctx context.Context, o *Order) error
	FindByID(ctx context.Context, id string) (*Order, error)
	FindByCheckoutKey(ctx context.Context, key string) (*Order, error)
	FindByCustomer(ctx context.Context, customerID string) ([]Order, error)
	FindByShop(ctx context.Context, shopID string) ([]Order, error)
	// UpdateStatus sets the status if the stored version equals
	// expectedVersion and returns the updated order. A stale version yields
	// ErrVersionConflict.
	UpdateStatus(ctx context.Context, id string, status Status, expectedVersion int) (*Order, error)
	// ListByStatusBefore returns up to limit orders in status created
	// before the given time, oldest first.
	ListByStatusBefore(ctx context.Context, status Status, before time.Time, limit int) ([]Order, error)
}

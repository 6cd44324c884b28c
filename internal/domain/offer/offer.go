// Package offer models shop promotions that can be applied to an order.
package offer

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported offer discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage off the subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed amount off, capped at the subtotal.
	DiscountFixed DiscountType = "fixed"
	// DiscountFreeLowest makes one unit of the cheapest item free.
	DiscountFreeLowest DiscountType = "free_lowest"
)

var (
	// ErrNotFound is returned when an offer does not exist.
	ErrNotFound = errors.New("offer not found")
	// ErrInvalidOffer is returned when the offer cannot be applied to the cart.
	ErrInvalidOffer = errors.New("invalid offer")
	// ErrExpired is returned outside the offer's validity window.
	ErrExpired = errors.New("offer expired")
	// ErrUsageLimitReached is returned once an offer has exhausted its uses.
	ErrUsageLimitReached = errors.New("offer usage limit reached")
)

// Offer is a shop promotion.
type Offer struct {
	ID           string
	ShopID       string
	Code         string
	DiscountType DiscountType
	Value        decimal.Decimal
	MinItems     int
	Description  string
	ValidFrom    *time.Time
	ValidUntil   *time.Time
	MaxUses      int
	Uses         int
	Active       bool
}

// Discount is the amount an offer takes off a cart.
type Discount struct {
	OfferID     string
	Amount      decimal.Decimal
	Description string
}

// Item is a cart line as seen by discount calculation.
type Item struct {
	FoodItemID string
	Price      decimal.Decimal
	Quantity   int
}

// Repository provides lookup and mutation of offers.
type Repository interface {
	FindByID(ctx context.Context, id string) (*Offer, error)
	ListByShop(ctx context.Context, shopID string) ([]Offer, error)
	IncrementUses(ctx context.Context, id string) error
}

// Package fooditem defines the food catalog.
package fooditem

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested food item does not exist.
var ErrNotFound = errors.New("food item not found")

// FoodItem is a dish offered by a shop.
type FoodItem struct {
	ID          string
	ShopID      string
	Name        string
	Description string
	Price       decimal.Decimal
	Category    string
	Image       string
	Available   bool
}

// Repository defines read operations on the food catalog.
type Repository interface {
	FindByID(ctx context.Context, id string) (*FoodItem, error)
	ListByShop(ctx context.Context, shopID string) ([]FoodItem, error)
}

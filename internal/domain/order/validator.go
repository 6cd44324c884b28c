package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/cravekart/internal/domain/fooditem"
	"github.com/xenking/cravekart/internal/domain/shop"
	"github.com/xenking/cravekart/internal/domain/user"
)

// LineRequest is a requested line item. Client-side prices are never
// accepted; the captured price comes from the catalog.
type LineRequest struct {
	FoodItemID string
	Quantity   int
}

// Validator checks the referential integrity of an order request. It only
// reads, so concurrent validations need no coordination.
type Validator struct {
	users user.Repository
	shops shop.Repository
	foods fooditem.Repository
}

// NewValidator creates a Validator over the directories.
func NewValidator(users user.Repository, shops shop.Repository, foods fooditem.Repository) *Validator {
	return &Validator{users: users, shops: shops, foods: foods}
}

// Validate runs the checks fail-fast: identifier formats, item list shape,
// customer, shop, then every food item and its shop ownership. It returns
// the normalized line items with price = unit price * quantity.
func (v *Validator) Validate(ctx context.Context, customerID, shopID string, lines []LineRequest) ([]Item, error) {
	if err := checkID("customer", customerID); err != nil {
		return nil, err
	}
	if err := checkID("shop", shopID); err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, ErrEmptyItems
	}
	for _, l := range lines {
		if err := checkID("food item", l.FoodItemID); err != nil {
			return nil, err
		}
		if l.Quantity < 1 {
			return nil, &InvalidQuantityError{FoodItemID: l.FoodItemID}
		}
	}

	if _, err := v.users.FindByID(ctx, customerID); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, &CustomerNotFoundError{ID: customerID}
		}
		return nil, errors.Wrap(err, "lookup customer")
	}

	if _, err := v.shops.FindByID(ctx, shopID); err != nil {
		if errors.Is(err, shop.ErrNotFound) {
			return nil, &ShopNotFoundError{ID: shopID}
		}
		return nil, errors.Wrap(err, "lookup shop")
	}

	items := make([]Item, 0, len(lines))
	for _, l := range lines {
		f, err := v.foods.FindByID(ctx, l.FoodItemID)
		if err != nil {
			if errors.Is(err, fooditem.ErrNotFound) {
				return nil, &FoodItemNotFoundError{ID: l.FoodItemID}
			}
			return nil, errors.Wrap(err, "lookup food item")
		}
		if f.ShopID != shopID {
			return nil, &ItemShopMismatchError{FoodItemID: f.ID, ShopID: shopID}
		}
		items = append(items, Item{
			FoodItemID: f.ID,
			Name:       f.Name,
			UnitPrice:  f.Price,
			Quantity:   l.Quantity,
			Price:      f.Price.Mul(decimal.NewFromInt(int64(l.Quantity))),
		})
	}
	return items, nil
}

// Subtotal sums the captured line prices.
func Subtotal(items []Item) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Price)
	}
	return sum
}

func checkID(field, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return &InvalidIdentifierError{Field: field, Value: id}
	}
	return nil
}

package order

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_Validate(t *testing.T) {
	tests := []struct {
		name     string
		customer string
		shop     string
		lines    []LineRequest
		check    func(t *testing.T, err error)
	}{
		{
			name:     "malformed customer id",
			customer: "not-a-uuid",
			shop:     shopID,
			lines:    []LineRequest{{FoodItemID: burgerID, Quantity: 1}},
			check: func(t *testing.T, err error) {
				var e *InvalidIdentifierError
				require.ErrorAs(t, err, &e)
				assert.Equal(t, "customer", e.Field)
			},
		},
		{
			name:     "malformed food item id",
			customer: customerID,
			shop:     shopID,
			lines:    []LineRequest{{FoodItemID: "42", Quantity: 1}},
			check: func(t *testing.T, err error) {
				var e *InvalidIdentifierError
				require.ErrorAs(t, err, &e)
				assert.Equal(t, "food item", e.Field)
			},
		},
		{
			name:     "empty items",
			customer: customerID,
			shop:     shopID,
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrEmptyItems)
			},
		},
		{
			name:     "zero quantity",
			customer: customerID,
			shop:     shopID,
			lines:    []LineRequest{{FoodItemID: burgerID, Quantity: 0}},
			check: func(t *testing.T, err error) {
				var e *InvalidQuantityError
				require.ErrorAs(t, err, &e)
				assert.Equal(t, burgerID, e.FoodItemID)
			},
		},
		{
			name:     "unknown shop",
			customer: customerID,
			shop:     "7a1b2c3d-0000-4000-8000-0000000000ff",
			lines:    []LineRequest{{FoodItemID: burgerID, Quantity: 1}},
			check: func(t *testing.T, err error) {
				var e *ShopNotFoundError
				require.ErrorAs(t, err, &e)
			},
		},
		{
			name:     "unknown food item",
			customer: customerID,
			shop:     shopID,
			lines:    []LineRequest{{FoodItemID: burgerID, Quantity: 1}, {FoodItemID: missingID, Quantity: 1}},
			check: func(t *testing.T, err error) {
				var e *FoodItemNotFoundError
				require.ErrorAs(t, err, &e)
				assert.Equal(t, missingID, e.ID)
			},
		},
		{
			name:     "item from another shop",
			customer: customerID,
			shop:     shopID,
			lines:    []LineRequest{{FoodItemID: sushiID, Quantity: 1}},
			check: func(t *testing.T, err error) {
				var e *ItemShopMismatchError
				require.ErrorAs(t, err, &e)
				assert.Equal(t, sushiID, e.FoodItemID)
				assert.True(t, IsValidation(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.validator().Validate(context.Background(), tt.customer, tt.shop, tt.lines)
			require.Error(t, err)
			assert.True(t, IsValidation(err))
			tt.check(t, err)
		})
	}
}

func TestValidator_CustomerCheckedBeforeFoodItems(t *testing.T) {
	f := newFixture()
	unknown := "6f1b2c3d-0000-4000-8000-0000000000ff"

	_, err := f.validator().Validate(context.Background(), unknown, shopID, []LineRequest{
		{FoodItemID: burgerID, Quantity: 1},
	})

	var e *CustomerNotFoundError
	require.ErrorAs(t, err, &e)
	assert.Equal(t, unknown, e.ID)
	assert.Zero(t, f.foods.calls, "food items must not be looked up for an unknown customer")
}

func TestValidator_NormalizesPrices(t *testing.T) {
	f := newFixture()

	items, err := f.validator().Validate(context.Background(), customerID, shopID, []LineRequest{
		{FoodItemID: burgerID, Quantity: 2},
		{FoodItemID: friesID, Quantity: 1},
	})
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "Burger", items[0].Name)
	assert.True(t, decimal.RequireFromString("200").Equal(items[0].Price))
	assert.True(t, decimal.RequireFromString("100").Equal(items[0].UnitPrice))
	assert.True(t, decimal.RequireFromString("250").Equal(Subtotal(items)))
}

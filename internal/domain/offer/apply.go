package offer

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Apply computes the discount an offer grants on the given items. It returns
// ErrInvalidOffer when the cart holds fewer units than the offer requires.
func Apply(o *Offer, items []Item) (Discount, error) {
	units := 0
	subtotal := decimal.Zero
	for _, it := range items {
		units += it.Quantity
		subtotal = subtotal.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	if o.MinItems > 0 && units < o.MinItems {
		return Discount{}, errors.Wrapf(ErrInvalidOffer, "requires at least %d items", o.MinItems)
	}

	var amount decimal.Decimal
	switch o.DiscountType {
	case DiscountPercentage:
		amount = subtotal.Mul(o.Value).Div(hundred)
	case DiscountFixed:
		amount = decimal.Min(o.Value, subtotal)
	case DiscountFreeLowest:
		amount = lowestPrice(items)
	default:
		return Discount{}, errors.Errorf("unsupported discount type: %q", o.DiscountType)
	}
	if amount.IsNegative() {
		amount = decimal.Zero
	}

	return Discount{
		OfferID:     o.ID,
		Amount:      amount.Round(2),
		Description: o.Description,
	}, nil
}

func lowestPrice(items []Item) decimal.Decimal {
	if len(items) == 0 {
		return decimal.Zero
	}
	lowest := items[0].Price
	for _, it := range items[1:] {
		if it.Price.LessThan(lowest) {
			lowest = it.Price
		}
	}
	return lowest
}

// Package pricing computes the authoritative price breakdown of a checkout.
//
// The same Calculator runs for the quote shown during checkout and for the
// amount stored on the order and charged at the payment provider, so both
// figures are always derived from one formula.
package pricing

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNegativeSubtotal is returned when a subtotal below zero is priced.
	ErrNegativeSubtotal = errors.New("subtotal must not be negative")
	// ErrTotalMismatch is returned when a client-submitted total deviates from
	// the server-computed total by more than the configured tolerance.
	ErrTotalMismatch = errors.New("submitted total does not match computed total")
)

var hundred = decimal.NewFromInt(100)

// Config holds the pricing constants.
type Config struct {
	DiscountThreshold decimal.Decimal
	DiscountRate      decimal.Decimal
	TaxRate           decimal.Decimal
	DeliveryFee       decimal.Decimal
	// Tolerance is the maximum accepted absolute difference between a
	// client-submitted total and the computed one.
	Tolerance decimal.Decimal
}

// DefaultConfig returns the storefront defaults: 25% off orders of 200 or
// more, 8% tax on the discounted amount and a flat 49.99 delivery fee.
func DefaultConfig() Config {
	return Config{
		DiscountThreshold: decimal.NewFromInt(200),
		DiscountRate:      decimal.RequireFromString("0.25"),
		TaxRate:           decimal.RequireFromString("0.08"),
		DeliveryFee:       decimal.RequireFromString("49.99"),
		Tolerance:         decimal.RequireFromString("0.01"),
	}
}

// Breakdown is the derived, never persisted, price composition of a cart.
type Breakdown struct {
	Subtotal      decimal.Decimal
	OfferDiscount decimal.Decimal
	Discount      decimal.Decimal
	Taxable       decimal.Decimal
	Tax           decimal.Decimal
	DeliveryFee   decimal.Decimal
	Total         decimal.Decimal
}

// Calculator prices subtotals. It has no state besides its configuration.
type Calculator struct {
	cfg Config
}

// NewCalculator creates a Calculator with the given constants.
func NewCalculator(cfg Config) *Calculator {
	return &Calculator{cfg: cfg}
}

// Config returns the constants the calculator was built with.
func (c *Calculator) Config() Config {
	return c.cfg
}

// Calculate prices a subtotal without an applied offer.
func (c *Calculator) Calculate(subtotal decimal.Decimal) (Breakdown, error) {
	return c.CalculateWithOffer(subtotal, decimal.Zero)
}

// CalculateWithOffer prices a subtotal after taking an offer discount off it.
// The threshold discount is evaluated on the remainder, so a zero offer
// discount yields exactly the plain formula.
func (c *Calculator) CalculateWithOffer(subtotal, offerDiscount decimal.Decimal) (Breakdown, error) {
	if subtotal.IsNegative() {
		return Breakdown{}, ErrNegativeSubtotal
	}
	if offerDiscount.IsNegative() {
		offerDiscount = decimal.Zero
	}
	offerDiscount = decimal.Min(offerDiscount, subtotal)
	base := subtotal.Sub(offerDiscount)

	discount := decimal.Zero
	if base.GreaterThanOrEqual(c.cfg.DiscountThreshold) {
		discount = base.Mul(c.cfg.DiscountRate)
	}
	taxable := base.Sub(discount)
	tax := taxable.Mul(c.cfg.TaxRate)

	return Breakdown{
		Subtotal:      subtotal,
		OfferDiscount: offerDiscount,
		Discount:      discount,
		Taxable:       taxable,
		Tax:           tax,
		DeliveryFee:   c.cfg.DeliveryFee,
		Total:         taxable.Add(tax).Add(c.cfg.DeliveryFee),
	}, nil
}

// Verify checks a client-submitted total against the authoritative one. An
// absent total (the client sent no hint) always passes; an explicit zero is
// checked like any other amount.
func (c *Calculator) Verify(submitted decimal.NullDecimal, b Breakdown) error {
	if !submitted.Valid {
		return nil
	}
	if submitted.Decimal.Sub(b.Total).Abs().GreaterThan(c.cfg.Tolerance) {
		return errors.Wrapf(ErrTotalMismatch, "submitted %s, computed %s",
			submitted.Decimal.StringFixed(2), b.Total.StringFixed(2))
	}
	return nil
}

// MinorUnits converts an amount to integer minor currency units (cents,
// paise), rounding half away from zero at two decimal places.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Round(2).Mul(hundred).IntPart()
}

// FromMinorUnits converts integer minor units back to a decimal amount.
func FromMinorUnits(units int64) decimal.Decimal {
	return decimal.New(units, -2)
}

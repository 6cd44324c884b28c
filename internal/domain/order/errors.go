package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrInvalidOrder is the common cause of every request validation error.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrEmptyItems is returned for an order without line items.
	ErrEmptyItems = errors.New("items required")
	// ErrVersionConflict is returned when a status update lost a race.
	ErrVersionConflict = errors.New("order version conflict")
	// ErrInvalidTransition is returned when the lifecycle forbids a status change.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrUnknownStatus is returned for a status value outside the lifecycle.
	ErrUnknownStatus = errors.New("unknown status")
	// ErrDuplicateCheckoutKey is returned by Repository.Create when the
	// checkout key is already taken.
	ErrDuplicateCheckoutKey = errors.New("duplicate checkout key")
	// ErrCheckoutKeyReused is returned when a checkout key is replayed by a
	// different customer.
	ErrCheckoutKeyReused = errors.New("checkout key belongs to another order")
)

// IsValidation reports whether err rejects the request itself, as opposed to
// a conflict or an infrastructure failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidOrder) ||
		errors.Is(err, ErrEmptyItems) ||
		errors.Is(err, ErrUnknownStatus)
}

// InvalidIdentifierError indicates a malformed id.
type InvalidIdentifierError struct {
	Field string
	Value string
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid %s id %q", e.Field, e.Value)
}

func (e *InvalidIdentifierError) Unwrap() error { return ErrInvalidOrder }

// InvalidQuantityError indicates a line item with a quantity below one.
type InvalidQuantityError struct {
	FoodItemID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for food item %s", e.FoodItemID)
}

func (e *InvalidQuantityError) Unwrap() error { return ErrInvalidOrder }

// CustomerNotFoundError indicates the ordering customer does not exist.
type CustomerNotFoundError struct {
	ID string
}

func (e *CustomerNotFoundError) Error() string {
	return fmt.Sprintf("customer %s not found", e.ID)
}

func (e *CustomerNotFoundError) Unwrap() error { return ErrInvalidOrder }

// ShopNotFoundError indicates the target shop does not exist.
type ShopNotFoundError struct {
	ID string
}

func (e *ShopNotFoundError) Error() string {
	return fmt.Sprintf("shop %s not found", e.ID)
}

func (e *ShopNotFoundError) Unwrap() error { return ErrInvalidOrder }

// FoodItemNotFoundError indicates a line item references a missing food item.
type FoodItemNotFoundError struct {
	ID string
}

func (e *FoodItemNotFoundError) Error() string {
	return fmt.Sprintf("food item %s not found", e.ID)
}

func (e *FoodItemNotFoundError) Unwrap() error { return ErrInvalidOrder }

// ItemShopMismatchError indicates a food item sold by another shop.
type ItemShopMismatchError struct {
	FoodItemID string
	ShopID     string
}

func (e *ItemShopMismatchError) Error() string {
	return fmt.Sprintf("food item %s does not belong to shop %s", e.FoodItemID, e.ShopID)
}

func (e *ItemShopMismatchError) Unwrap() error { return ErrInvalidOrder }

// InvalidTransitionError names the rejected status change.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// Package user defines the customer and shop-owner directory.
package user

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a user does not exist.
var ErrNotFound = errors.New("user not found")

// Type is the role of a user account.
type Type string

const (
	TypeCustomer  Type = "customer"
	TypeShopOwner Type = "shopOwner"
	TypeAdmin     Type = "admin"
)

// User is a registered account.
type User struct {
	ID        string
	Name      string
	Email     string
	Type      Type
	CreatedAt time.Time
}

// Repository defines read operations on the user directory.
type Repository interface {
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
}

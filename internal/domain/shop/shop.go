// Package shop defines the shop directory.
package shop

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a shop does not exist.
var ErrNotFound = errors.New("shop not found")

// Status is the moderation status of a shop.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Shop is a restaurant selling food items.
type Shop struct {
	ID          string
	OwnerID     string
	Name        string
	Description string
	Logo        string
	Categories  []string
	Status      Status
	CreatedAt   time.Time
}

// Repository defines read operations on the shop directory.
type Repository interface {
	FindByID(ctx context.Context, id string) (*Shop, error)
}

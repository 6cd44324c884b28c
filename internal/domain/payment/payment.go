// Package payment links orders to provider payment intents and reconciles
// their outcome.
package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

// Status is the state of a payment intent as tracked locally.
type Status string

const (
	StatusRequiresPayment Status = "requires_payment"
	StatusProcessing      Status = "processing"
	StatusSucceeded       Status = "succeeded"
	StatusFailed          Status = "failed"
	StatusCancelled       Status = "cancelled"
)

// Reusable reports whether an intent in this state can still be paid.
func (s Status) Reusable() bool {
	return s == StatusRequiresPayment || s == StatusProcessing
}

var (
	// ErrNotFound is returned when no intent matches.
	ErrNotFound = errors.New("payment intent not found")
	// ErrIntentOrderMismatch is returned when an intent is confirmed against
	// an order it was not created for.
	ErrIntentOrderMismatch = errors.New("payment intent does not belong to order")
	// ErrAmountMismatch is returned when the provider amount differs from
	// the order total.
	ErrAmountMismatch = errors.New("payment amount does not match order total")
	// ErrNotConfirmed is returned when the provider has not captured the payment.
	ErrNotConfirmed = errors.New("payment not confirmed")
	// ErrOrderNotPayable is returned when the order is not awaiting payment.
	ErrOrderNotPayable = errors.New("order is not awaiting payment")
	// ErrProvider is the cause of every payment provider failure.
	ErrProvider = errors.New("payment provider error")
	// ErrInvalidSignature is returned for webhook payloads failing verification.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// ProviderError wraps a failed provider call.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payment provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() []error { return []error{ErrProvider, e.Err} }

// NotConfirmedError carries the provider status of an unconfirmed payment.
type NotConfirmedError struct {
	Status Status
}

func (e *NotConfirmedError) Error() string {
	return fmt.Sprintf("payment not confirmed: intent is %s", e.Status)
}

func (e *NotConfirmedError) Unwrap() error { return ErrNotConfirmed }

// Intent is the local record of a provider payment intent. There is at most
// one intent per order; a replacement overwrites the previous record.
type Intent struct {
	ID             string
	OrderID        string
	Amount         int64
	Currency       string
	Status         Status
	ClientSecret   string
	IdempotencyKey string
	Attempt        int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ProviderIntent is the provider view of an intent.
type ProviderIntent struct {
	ID           string
	Amount       int64
	Currency     string
	Status       Status
	ClientSecret string
	Metadata     map[string]string
}

// CreateIntentParams describes an intent to create at the provider.
type CreateIntentParams struct {
	Amount         int64
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
}

// Webhook event types reconciled by the coordinator.
const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
	EventIntentCanceled  = "payment_intent.canceled"
)

// WebhookEvent is a verified provider notification.
type WebhookEvent struct {
	ID     string
	Type   string
	Intent ProviderIntent
}

// Provider is the payment provider gateway.
type Provider interface {
	CreateIntent(ctx context.Context, p CreateIntentParams) (*ProviderIntent, error)
	RetrieveIntent(ctx context.Context, id string) (*ProviderIntent, error)
	CancelIntent(ctx context.Context, id string) (*ProviderIntent, error)
	// ParseWebhook verifies signature over payload and decodes the event.
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

// Repository persists intents and processed webhook events.
type Repository interface {
	// Save inserts or replaces the intent of intent.OrderID.
	Save(ctx context.Context, in *Intent) error
	FindByID(ctx context.Context, id string) (*Intent, error)
	FindByOrder(ctx context.Context, orderID string) (*Intent, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
	// EventProcessed reports whether a webhook event id was recorded.
	EventProcessed(ctx context.Context, eventID string) (bool, error)
	// RecordEvent stores a processed webhook event id. Recording an id twice
	// is not an error.
	RecordEvent(ctx context.Context, eventID, eventType string) error
	// RecentEvents returns up to limit most recently processed event ids.
	RecentEvents(ctx context.Context, limit int) ([]string, error)
}

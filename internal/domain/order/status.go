package order

import "github.com/go-faster/errors"

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPaymentPending Status = "payment_pending"
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusPreparing      Status = "preparing"
	StatusReady          Status = "ready"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPaymentPending: {StatusConfirmed, StatusCancelled},
	StatusPending:        {StatusConfirmed, StatusCancelled},
	StatusConfirmed:      {StatusPreparing, StatusCancelled},
	StatusPreparing:      {StatusReady, StatusCancelled},
	StatusReady:          {StatusDelivered},
	StatusDelivered:      nil,
	StatusCancelled:      nil,
}

// ParseStatus validates s as a known status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := transitions[st]; !ok {
		return "", errors.Wrapf(ErrUnknownStatus, "%q", s)
	}
	return st, nil
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Paid reports whether the order has passed payment.
func (s Status) Paid() bool {
	switch s {
	case StatusConfirmed, StatusPreparing, StatusReady, StatusDelivered:
		return true
	default:
		return false
	}
}

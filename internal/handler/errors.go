package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/cravekart/internal/domain/checkout"
	"github.com/xenking/cravekart/internal/domain/fooditem"
	"github.com/xenking/cravekart/internal/domain/offer"
	"github.com/xenking/cravekart/internal/domain/order"
	"github.com/xenking/cravekart/internal/domain/payment"
	"github.com/xenking/cravekart/internal/domain/pricing"
	"github.com/xenking/cravekart/internal/domain/shop"
	"github.com/xenking/cravekart/internal/domain/user"
)

// requestError is a malformed request detected by the handler itself.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &requestError{msg: msg}
}

// status maps a domain error to its HTTP status.
func status(err error) int {
	var (
		reqErr *requestError
		valErr *checkout.ValidationError
	)
	switch {
	case errors.As(err, &reqErr), errors.As(err, &valErr):
		return http.StatusBadRequest
	case errors.Is(err, payment.ErrInvalidSignature):
		return http.StatusBadRequest
	case errors.Is(err, payment.ErrProvider):
		return http.StatusBadGateway
	case order.IsValidation(err),
		errors.Is(err, pricing.ErrTotalMismatch),
		errors.Is(err, pricing.ErrNegativeSubtotal),
		errors.Is(err, offer.ErrInvalidOffer),
		errors.Is(err, offer.ErrExpired),
		errors.Is(err, offer.ErrUsageLimitReached),
		errors.Is(err, checkout.ErrEmptyCart),
		errors.Is(err, checkout.ErrItemUnavailable):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, user.ErrNotFound),
		errors.Is(err, shop.ErrNotFound),
		errors.Is(err, fooditem.ErrNotFound),
		errors.Is(err, checkout.ErrSessionNotFound),
		errors.Is(err, payment.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrVersionConflict),
		errors.Is(err, order.ErrCheckoutKeyReused),
		errors.Is(err, checkout.ErrSessionConflict):
		return http.StatusConflict
	case errors.Is(err, payment.ErrNotConfirmed):
		return http.StatusPaymentRequired
	case errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, checkout.ErrInvalidState),
		errors.Is(err, checkout.ErrDifferentShop),
		errors.Is(err, payment.ErrOrderNotPayable),
		errors.Is(err, payment.ErrIntentOrderMismatch),
		errors.Is(err, payment.ErrAmountMismatch):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// fail writes the error response for err. Server-side failures are logged
// and answered with a generic message; the cause is attached only in
// development mode.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := status(err)
	if code < http.StatusInternalServerError {
		var valErr *checkout.ValidationError
		if errors.As(err, &valErr) {
			writeValidationError(w, valErr)
			return
		}
		writeError(w, code, err.Error(), "")
		return
	}

	zctx.From(r.Context()).Error("Request failed",
		zap.String("path", r.URL.Path),
		zap.Int("status", code),
		zap.Error(err),
	)
	msg := "internal server error"
	if code == http.StatusBadGateway {
		msg = "payment provider unavailable"
	}
	detail := ""
	if h.dev {
		detail = err.Error()
	}
	writeError(w, code, msg, detail)
}

func writeError(w http.ResponseWriter, code int, msg, detail string) {
	writeJSON(w, code, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(code)
		e.FieldStart("message")
		e.Str(msg)
		if detail != "" {
			e.FieldStart("error")
			e.Str(detail)
		}
		e.ObjEnd()
	})
}

func writeValidationError(w http.ResponseWriter, err *checkout.ValidationError) {
	writeJSON(w, http.StatusBadRequest, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(http.StatusBadRequest)
		e.FieldStart("message")
		e.Str(err.Error())
		e.FieldStart("fields")
		e.ObjStart()
		for _, k := range sortedKeys(err.Fields) {
			e.FieldStart(k)
			e.Str(err.Fields[k])
		}
		e.ObjEnd()
		e.ObjEnd()
	})
}

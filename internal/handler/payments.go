package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// CreateIntent handles POST /payments/create-intent.
func (h *Handler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	var orderID, currency string
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "orderId":
			orderID, err = d.Str()
		case "currency":
			currency, err = d.Str()
		default:
			return d.Skip()
		}
		return err
	})
	if err == nil && orderID == "" {
		err = badRequest("orderId is required")
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	in, err := h.payments.CreateIntent(r.Context(), orderID, currency)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeIntent(e, in) })
}

// ConfirmPayment handles POST /payments/confirm/{orderId}.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var intentID string
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		if key != "paymentIntentId" {
			return d.Skip()
		}
		var err error
		intentID, err = d.Str()
		return err
	})
	if err == nil && intentID == "" {
		err = badRequest("paymentIntentId is required")
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	c, err := h.payments.ConfirmPayment(r.Context(), chi.URLParam(r, "orderId"), intentID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("success")
		e.Bool(true)
		e.FieldStart("paymentIntentId")
		e.Str(c.Intent.ID)
		e.FieldStart("paymentStatus")
		e.Str(string(c.Intent.Status))
		e.FieldStart("order")
		encodeOrder(e, c.Order)
		e.ObjEnd()
	})
}

// Webhook handles POST /payments/webhook. Events that fail to reconcile are
// answered with 500 so the provider redelivers them.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := readBody(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ev, err := h.webhooks.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		zctx.From(r.Context()).Warn("Rejected webhook", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid webhook", "")
		return
	}
	if err := h.payments.HandleEvent(r.Context(), ev); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("received")
		e.Bool(true)
		e.ObjEnd()
	})
}

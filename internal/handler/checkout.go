package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/cravekart/internal/domain/checkout"
)

func (h *Handler) writeSession(w http.ResponseWriter, r *http.Request, code int, s *checkout.Session, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, code, func(e *jx.Encoder) { encodeSession(e, s) })
}

// CreateSession handles POST /checkout/sessions.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var customerID string
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		if key != "customerId" {
			return d.Skip()
		}
		var err error
		customerID, err = d.Str()
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	s, err := h.checkout.Create(r.Context(), customerID)
	h.writeSession(w, r, http.StatusCreated, s, err)
}

// GetSession handles GET /checkout/sessions/{id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.checkout.Get(r.Context(), chi.URLParam(r, "id"))
	h.writeSession(w, r, http.StatusOK, s, err)
}

// SetSessionItem handles PUT /checkout/sessions/{id}/items.
func (h *Handler) SetSessionItem(w http.ResponseWriter, r *http.Request) {
	var (
		foodItemID string
		qty        int
	)
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "foodItemId", "foodItem":
			foodItemID, err = d.Str()
		case "quantity":
			qty, err = d.Int()
		default:
			return d.Skip()
		}
		return err
	})
	if err == nil && foodItemID == "" {
		err = badRequest("foodItemId is required")
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	s, err := h.checkout.SetItem(r.Context(), chi.URLParam(r, "id"), foodItemID, qty)
	h.writeSession(w, r, http.StatusOK, s, err)
}

// ClearSessionCart handles DELETE /checkout/sessions/{id}/items.
func (h *Handler) ClearSessionCart(w http.ResponseWriter, r *http.Request) {
	s, err := h.checkout.ClearCart(r.Context(), chi.URLParam(r, "id"))
	h.writeSession(w, r, http.StatusOK, s, err)
}

// QuoteSession handles GET /checkout/sessions/{id}/quote.
func (h *Handler) QuoteSession(w http.ResponseWriter, r *http.Request) {
	b, err := h.checkout.Quote(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("offerId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeBreakdown(e, b) })
}

// SubmitSessionDetails handles POST /checkout/sessions/{id}/details.
func (h *Handler) SubmitSessionDetails(w http.ResponseWriter, r *http.Request) {
	var req checkout.SubmitRequest
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "address":
			req.Details.Address, err = d.Str()
		case "city":
			req.Details.City, err = d.Str()
		case "zip":
			req.Details.Zip, err = d.Str()
		case "phone":
			req.Details.Phone, err = d.Str()
		case "instructions":
			req.Details.Instructions, err = d.Str()
		case "offerId":
			req.OfferID, err = d.Str()
		case "currency":
			req.Currency, err = d.Str()
		case "displayedTotal":
			req.DisplayedTotal, err = decodeOptionalDecimal(d)
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	s, err := h.checkout.SubmitDetails(r.Context(), chi.URLParam(r, "id"), req)
	h.writeSession(w, r, http.StatusOK, s, err)
}

// CompleteSessionPayment handles POST /checkout/sessions/{id}/payment.
func (h *Handler) CompleteSessionPayment(w http.ResponseWriter, r *http.Request) {
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
	s, err := h.checkout.CompletePayment(r.Context(), chi.URLParam(r, "id"), intentID)
	h.writeSession(w, r, http.StatusOK, s, err)
}

// SessionBack handles POST /checkout/sessions/{id}/back.
func (h *Handler) SessionBack(w http.ResponseWriter, r *http.Request) {
	s, err := h.checkout.Back(r.Context(), chi.URLParam(r, "id"))
	h.writeSession(w, r, http.StatusOK, s, err)
}

// SessionRetry handles POST /checkout/sessions/{id}/retry.
func (h *Handler) SessionRetry(w http.ResponseWriter, r *http.Request) {
	s, err := h.checkout.Retry(r.Context(), chi.URLParam(r, "id"))
	h.writeSession(w, r, http.StatusOK, s, err)
}

package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/cravekart/internal/domain/order"
)

// idempotencyPrefix namespaces client-supplied Idempotency-Key values so
// they never collide with keys derived by checkout sessions.
const idempotencyPrefix = "http:"

// PlaceOrder handles POST /orders. The submitted totalAmount is only checked
// against the server-computed total; the stored amounts are always
// recomputed.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req order.PlaceOrderRequest
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "customerId":
			req.CustomerID, err = d.Str()
		case "shopId":
			req.ShopID, err = d.Str()
		case "address":
			req.Address, err = d.Str()
		case "appliedOfferId":
			if d.Next() == jx.Null {
				return d.Null()
			}
			req.OfferID, err = d.Str()
		case "totalAmount":
			req.SubmittedTotal, err = decodeOptionalDecimal(d)
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				line, err := decodeLine(d)
				if err != nil {
					return err
				}
				req.Items = append(req.Items, line)
				return nil
			})
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		req.CheckoutKey = idempotencyPrefix + key
	}

	o, err := h.orders.PlaceOrder(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func decodeLine(d *jx.Decoder) (order.LineRequest, error) {
	var line order.LineRequest
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "foodItem", "foodItemId":
			line.FoodItemID, err = d.Str()
		case "quantity":
			line.Quantity, err = d.Int()
		default:
			return d.Skip()
		}
		return err
	})
	return line, err
}

// GetOrder handles GET /orders/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// ListCustomerOrders handles GET /orders/user/{userId}.
func (h *Handler) ListCustomerOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListByCustomer(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrders(e, orders) })
}

// ListShopOrders handles GET /orders/shop/{shopId}.
func (h *Handler) ListShopOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListByShop(r.Context(), chi.URLParam(r, "shopId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrders(e, orders) })
}

// UpdateOrderStatus handles PATCH /orders/{id}/status. The body must carry
// the order version the caller last read.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var (
		next       string
		version    int
		hasVersion bool
	)
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "status":
			next, err = d.Str()
		case "version":
			version, err = d.Int()
			hasVersion = true
		default:
			return d.Skip()
		}
		return err
	})
	if err == nil && next == "" {
		err = badRequest("status is required")
	}
	if err == nil && !hasVersion {
		err = badRequest("version is required")
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	o, err := h.orders.UpdateStatus(r.Context(), chi.URLParam(r, "id"), order.Status(next), version)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

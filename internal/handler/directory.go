package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
)

// pathID returns the {id} parameter if it is a UUID.
func pathID(r *http.Request, what string) (string, error) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		return "", badRequest("invalid " + what + " id " + id)
	}
	return id, nil
}

// GetUser handles GET /users/{id}.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "user")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	u, err := h.users.FindByID(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeUser(e, u) })
}

// FindUserByEmail handles GET /users?email=.
func (h *Handler) FindUserByEmail(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		h.fail(w, r, badRequest("email query parameter is required"))
		return
	}
	u, err := h.users.FindByEmail(r.Context(), email)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeUser(e, u) })
}

// GetShop handles GET /shops/{id}.
func (h *Handler) GetShop(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "shop")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	s, err := h.shops.FindByID(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeShop(e, s) })
}

// ListFoodItems handles GET /shops/{id}/food-items.
func (h *Handler) ListFoodItems(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "shop")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.shops.FindByID(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	items, err := h.foods.ListByShop(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range items {
			encodeFoodItem(e, &items[i])
		}
		e.ArrEnd()
	})
}

// GetFoodItem handles GET /food-items/{id}.
func (h *Handler) GetFoodItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "food item")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	f, err := h.foods.FindByID(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeFoodItem(e, f) })
}

// Package handler exposes the order, payment, directory and checkout
// operations over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/cravekart/internal/domain/checkout"
	"github.com/xenking/cravekart/internal/domain/fooditem"
	"github.com/xenking/cravekart/internal/domain/order"
	"github.com/xenking/cravekart/internal/domain/payment"
	"github.com/xenking/cravekart/internal/domain/pricing"
	"github.com/xenking/cravekart/internal/domain/shop"
	"github.com/xenking/cravekart/internal/domain/user"
)

// Orders is the order lifecycle used by the order routes.
type Orders interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.Order, error)
	Get(ctx context.Context, id string) (*order.Order, error)
	ListByCustomer(ctx context.Context, customerID string) ([]order.Order, error)
	ListByShop(ctx context.Context, shopID string) ([]order.Order, error)
	UpdateStatus(ctx context.Context, id string, next order.Status, expectedVersion int) (*order.Order, error)
}

// Payments is the payment coordination used by the payment routes.
type Payments interface {
	CreateIntent(ctx context.Context, orderID, currency string) (*payment.Intent, error)
	ConfirmPayment(ctx context.Context, orderID, intentID string) (*payment.Confirmation, error)
	HandleEvent(ctx context.Context, ev *payment.WebhookEvent) error
}

// WebhookParser verifies and decodes provider webhooks.
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*payment.WebhookEvent, error)
}

// Checkout is the checkout state machine used by the session routes.
type Checkout interface {
	Create(ctx context.Context, customerID string) (*checkout.Session, error)
	Get(ctx context.Context, id string) (*checkout.Session, error)
	SetItem(ctx context.Context, id, foodItemID string, qty int) (*checkout.Session, error)
	ClearCart(ctx context.Context, id string) (*checkout.Session, error)
	Quote(ctx context.Context, id, offerID string) (pricing.Breakdown, error)
	SubmitDetails(ctx context.Context, id string, req checkout.SubmitRequest) (*checkout.Session, error)
	CompletePayment(ctx context.Context, id, intentID string) (*checkout.Session, error)
	Back(ctx context.Context, id string) (*checkout.Session, error)
	Retry(ctx context.Context, id string) (*checkout.Session, error)
}

var (
	_ Orders        = (*order.Service)(nil)
	_ Payments      = (*payment.Coordinator)(nil)
	_ WebhookParser = (payment.Provider)(nil)
	_ Checkout      = (*checkout.Orchestrator)(nil)
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// Development attaches the underlying error text to 5xx responses.
	Development bool
}

// Deps are the services the Handler delegates to.
type Deps struct {
	Orders   Orders
	Payments Payments
	Webhooks WebhookParser
	Checkout Checkout
	Users    user.Repository
	Shops    shop.Repository
	Foods    fooditem.Repository
}

// Handler implements the REST API.
type Handler struct {
	orders   Orders
	payments Payments
	webhooks WebhookParser
	checkout Checkout
	users    user.Repository
	shops    shop.Repository
	foods    fooditem.Repository
	dev      bool
}

// NewHandler constructs a Handler.
func NewHandler(cfg Config, deps Deps) *Handler {
	return &Handler{
		orders:   deps.Orders,
		payments: deps.Payments,
		webhooks: deps.Webhooks,
		checkout: deps.Checkout,
		users:    deps.Users,
		shops:    deps.Shops,
		foods:    deps.Foods,
		dev:      cfg.Development,
	}
}

// Routes returns the API router. The caller mounts it under /api.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.PlaceOrder)
		r.Get("/user/{userId}", h.ListCustomerOrders)
		r.Get("/shop/{shopId}", h.ListShopOrders)
		r.Get("/{id}", h.GetOrder)
		r.Patch("/{id}/status", h.UpdateOrderStatus)
	})

	r.Route("/payments", func(r chi.Router) {
		r.Post("/create-intent", h.CreateIntent)
		r.Post("/confirm/{orderId}", h.ConfirmPayment)
		r.Post("/webhook", h.Webhook)
	})

	r.Get("/users", h.FindUserByEmail)
	r.Get("/users/{id}", h.GetUser)
	r.Get("/shops/{id}", h.GetShop)
	r.Get("/shops/{id}/food-items", h.ListFoodItems)
	r.Get("/food-items/{id}", h.GetFoodItem)

	r.Route("/checkout/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Put("/items", h.SetSessionItem)
			r.Delete("/items", h.ClearSessionCart)
			r.Get("/quote", h.QuoteSession)
			r.Post("/details", h.SubmitSessionDetails)
			r.Post("/payment", h.CompleteSessionPayment)
			r.Post("/back", h.SessionBack)
			r.Post("/retry", h.SessionRetry)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found", "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
	})

	return r
}

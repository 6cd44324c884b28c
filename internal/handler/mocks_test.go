package handler

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/cravekart/internal/domain/checkout"
	"github.com/xenking/cravekart/internal/domain/fooditem"
	"github.com/xenking/cravekart/internal/domain/order"
	"github.com/xenking/cravekart/internal/domain/payment"
	"github.com/xenking/cravekart/internal/domain/pricing"
	"github.com/xenking/cravekart/internal/domain/shop"
	"github.com/xenking/cravekart/internal/domain/user"
)

const (
	customerID = "6f1b2c3d-0000-4000-8000-000000000001"
	shopID     = "7a1b2c3d-0000-4000-8000-000000000001"
	foodID     = "8b1b2c3d-0000-4000-8000-000000000001"
	orderID    = "9c1b2c3d-0000-4000-8000-000000000001"
)

type fakeOrders struct {
	place          func(order.PlaceOrderRequest) (*order.Order, error)
	get            func(id string) (*order.Order, error)
	listByCustomer func(id string) ([]order.Order, error)
	listByShop     func(id string) ([]order.Order, error)
	updateStatus   func(id string, next order.Status, version int) (*order.Order, error)
}

func (f *fakeOrders) PlaceOrder(_ context.Context, req order.PlaceOrderRequest) (*order.Order, error) {
	return f.place(req)
}

func (f *fakeOrders) Get(_ context.Context, id string) (*order.Order, error) {
	return f.get(id)
}

func (f *fakeOrders) ListByCustomer(_ context.Context, id string) ([]order.Order, error) {
	return f.listByCustomer(id)
}

func (f *fakeOrders) ListByShop(_ context.Context, id string) ([]order.Order, error) {
	return f.listByShop(id)
}

func (f *fakeOrders) UpdateStatus(_ context.Context, id string, next order.Status, version int) (*order.Order, error) {
	return f.updateStatus(id, next, version)
}

type fakePayments struct {
	create  func(orderID, currency string) (*payment.Intent, error)
	confirm func(orderID, intentID string) (*payment.Confirmation, error)
	handled []*payment.WebhookEvent
	handle  error
}

func (f *fakePayments) CreateIntent(_ context.Context, orderID, currency string) (*payment.Intent, error) {
	return f.create(orderID, currency)
}

func (f *fakePayments) ConfirmPayment(_ context.Context, orderID, intentID string) (*payment.Confirmation, error) {
	return f.confirm(orderID, intentID)
}

func (f *fakePayments) HandleEvent(_ context.Context, ev *payment.WebhookEvent) error {
	f.handled = append(f.handled, ev)
	return f.handle
}

type fakeWebhooks struct{}

func (fakeWebhooks) ParseWebhook(payload []byte, signature string) (*payment.WebhookEvent, error) {
	if signature != "valid" {
		return nil, payment.ErrInvalidSignature
	}
	return &payment.WebhookEvent{ID: "evt_1", Type: payment.EventIntentSucceeded, Intent: payment.ProviderIntent{ID: string(payload)}}, nil
}

type fakeCheckout struct {
	sessions map[string]*checkout.Session
	submit   func(id string, req checkout.SubmitRequest) (*checkout.Session, error)
	quote    pricing.Breakdown
	lastQty  int
}

func (f *fakeCheckout) lookup(id string) (*checkout.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, checkout.ErrSessionNotFound
	}
	return s, nil
}

func (f *fakeCheckout) Create(_ context.Context, customerID string) (*checkout.Session, error) {
	if customerID == "" {
		return nil, &order.InvalidIdentifierError{Field: "customer", Value: customerID}
	}
	s := &checkout.Session{ID: "sess-new", CustomerID: customerID, State: checkout.StateDetails, Version: 1}
	f.sessions[s.ID] = s
	return s, nil
}

func (f *fakeCheckout) Get(_ context.Context, id string) (*checkout.Session, error) {
	return f.lookup(id)
}

func (f *fakeCheckout) SetItem(_ context.Context, id, _ string, qty int) (*checkout.Session, error) {
	f.lastQty = qty
	return f.lookup(id)
}

func (f *fakeCheckout) ClearCart(_ context.Context, id string) (*checkout.Session, error) {
	return f.lookup(id)
}

func (f *fakeCheckout) Quote(_ context.Context, id, _ string) (pricing.Breakdown, error) {
	if _, err := f.lookup(id); err != nil {
		return pricing.Breakdown{}, err
	}
	return f.quote, nil
}

func (f *fakeCheckout) SubmitDetails(_ context.Context, id string, req checkout.SubmitRequest) (*checkout.Session, error) {
	return f.submit(id, req)
}

func (f *fakeCheckout) CompletePayment(_ context.Context, id, _ string) (*checkout.Session, error) {
	return f.lookup(id)
}

func (f *fakeCheckout) Back(context.Context, string) (*checkout.Session, error) {
	return nil, checkout.ErrInvalidState
}

func (f *fakeCheckout) Retry(_ context.Context, id string) (*checkout.Session, error) {
	return f.lookup(id)
}

type stubUsers map[string]*user.User

func (s stubUsers) FindByID(_ context.Context, id string) (*user.User, error) {
	if u, ok := s[id]; ok {
		return u, nil
	}
	return nil, user.ErrNotFound
}

func (s stubUsers) FindByEmail(_ context.Context, email string) (*user.User, error) {
	for _, u := range s {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return nil, user.ErrNotFound
}

type stubShops map[string]*shop.Shop

func (s stubShops) FindByID(_ context.Context, id string) (*shop.Shop, error) {
	if v, ok := s[id]; ok {
		return v, nil
	}
	return nil, shop.ErrNotFound
}

type stubFoods []fooditem.FoodItem

func (s stubFoods) FindByID(_ context.Context, id string) (*fooditem.FoodItem, error) {
	for i := range s {
		if s[i].ID == id {
			return &s[i], nil
		}
	}
	return nil, fooditem.ErrNotFound
}

func (s stubFoods) ListByShop(_ context.Context, shopID string) ([]fooditem.FoodItem, error) {
	var out []fooditem.FoodItem
	for _, f := range s {
		if f.ShopID == shopID {
			out = append(out, f)
		}
	}
	return out, nil
}

type testEnv struct {
	orders   *fakeOrders
	payments *fakePayments
	checkout *fakeCheckout
	router   chi.Router
}

func newEnv(t *testing.T, dev bool) *testEnv {
	t.Helper()
	env := &testEnv{
		orders:   &fakeOrders{},
		payments: &fakePayments{},
		checkout: &fakeCheckout{sessions: map[string]*checkout.Session{}},
	}
	h := NewHandler(Config{Development: dev}, Deps{
		Orders:   env.orders,
		Payments: env.payments,
		Webhooks: fakeWebhooks{},
		Checkout: env.checkout,
		Users: stubUsers{customerID: {
			ID: customerID, Name: "Asha", Email: "asha@example.com", Type: user.TypeCustomer,
		}},
		Shops: stubShops{shopID: {ID: shopID, Name: "Dosa Corner", Status: shop.StatusApproved}},
		Foods: stubFoods{{ID: foodID, ShopID: shopID, Name: "Masala Dosa", Available: true}},
	})
	r := chi.NewRouter()
	r.Mount("/api", h.Routes())
	env.router = r
	return env
}

func (env *testEnv) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

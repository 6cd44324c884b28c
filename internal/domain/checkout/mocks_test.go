package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/xenking/cravekart/internal/domain/fooditem"
	"github.com/xenking/cravekart/internal/domain/order"
	"github.com/xenking/cravekart/internal/domain/payment"
	"github.com/xenking/cravekart/internal/domain/pricing"
	"github.com/xenking/cravekart/internal/domain/user"
)

const (
	customerID = "6f1b2c3d-0000-4000-8000-000000000001"
	shopA      = "7a1b2c3d-0000-4000-8000-000000000001"
	shopB      = "7a1b2c3d-0000-4000-8000-000000000002"
	burgerID   = "8b1b2c3d-0000-4000-8000-000000000001"
	friesID    = "8b1b2c3d-0000-4000-8000-000000000002"
	sushiID    = "8b1b2c3d-0000-4000-8000-000000000003"
	soldOutID  = "8b1b2c3d-0000-4000-8000-000000000004"
)

type memStore struct {
	mu    sync.Mutex
	data  map[string][]byte
	saves int
}

func newMemStore() *memStore {
	return &memStore{data: map[string][]byte{}}
}

func (m *memStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.data[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (m *memStore) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := 0
	if raw, ok := m.data[s.ID]; ok {
		var stored Session
		if err := json.Unmarshal(raw, &stored); err != nil {
			return err
		}
		current = stored.Version
	}
	if current != s.Version {
		return ErrSessionConflict
	}
	s.Version++
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	m.data[s.ID] = raw
	m.saves++
	return nil
}

type stubUsers struct{}

func (stubUsers) FindByID(_ context.Context, id string) (*user.User, error) {
	if id != customerID {
		return nil, user.ErrNotFound
	}
	return &user.User{ID: id, Type: user.TypeCustomer}, nil
}

func (stubUsers) FindByEmail(context.Context, string) (*user.User, error) {
	return nil, user.ErrNotFound
}

type stubFoods map[string]fooditem.FoodItem

func (s stubFoods) FindByID(_ context.Context, id string) (*fooditem.FoodItem, error) {
	f, ok := s[id]
	if !ok {
		return nil, fooditem.ErrNotFound
	}
	return &f, nil
}

func (s stubFoods) ListByShop(context.Context, string) ([]fooditem.FoodItem, error) {
	return nil, nil
}

func catalog() stubFoods {
	return stubFoods{
		burgerID:  {ID: burgerID, ShopID: shopA, Name: "Burger", Price: decimal.NewFromInt(100), Available: true},
		friesID:   {ID: friesID, ShopID: shopA, Name: "Fries", Price: decimal.NewFromInt(50), Available: true},
		sushiID:   {ID: sushiID, ShopID: shopB, Name: "Sushi", Price: decimal.NewFromInt(300), Available: true},
		soldOutID: {ID: soldOutID, ShopID: shopA, Name: "Shake", Price: decimal.NewFromInt(80)},
	}
}

// fakeOrders places orders idempotently by checkout key.
type fakeOrders struct {
	mu       sync.Mutex
	calc     *pricing.Calculator
	byID     map[string]*order.Order
	byKey    map[string]string
	placed   int
	placeErr error
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{
		calc:  pricing.NewCalculator(pricing.DefaultConfig()),
		byID:  map[string]*order.Order{},
		byKey: map[string]string{},
	}
}

func (f *fakeOrders) Get(_ context.Context, id string) (*order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrders) Quote(_ context.Context, _ string, items []order.Item, _ string) (pricing.Breakdown, error) {
	return f.calc.Calculate(order.Subtotal(items))
}

func (f *fakeOrders) PlaceOrder(_ context.Context, req order.PlaceOrderRequest) (*order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	if id, ok := f.byKey[req.CheckoutKey]; ok {
		cp := *f.byID[id]
		return &cp, nil
	}
	sub := decimal.Zero
	for _, l := range req.Items {
		item := catalog()[l.FoodItemID]
		sub = sub.Add(item.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	b, err := f.calc.Calculate(sub)
	if err != nil {
		return nil, err
	}
	f.placed++
	o := &order.Order{
		ID:          fmt.Sprintf("order-%d", f.placed),
		CustomerID:  req.CustomerID,
		ShopID:      req.ShopID,
		Total:       b.Total.Round(2),
		Address:     req.Address,
		Status:      order.StatusPaymentPending,
		Version:     1,
		CheckoutKey: req.CheckoutKey,
	}
	f.byID[o.ID] = o
	f.byKey[req.CheckoutKey] = o.ID
	cp := *o
	return &cp, nil
}

func (f *fakeOrders) setStatus(id string, st order.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[id].Status = st
}

type fakePayments struct {
	mu         sync.Mutex
	orders     *fakeOrders
	creates    int
	confirms   int
	abandoned  []string
	createErr  error
	confirmErr error
	intents    map[string]*payment.Intent
}

func newFakePayments(orders *fakeOrders) *fakePayments {
	return &fakePayments{orders: orders, intents: map[string]*payment.Intent{}}
}

func (p *fakePayments) CreateIntent(_ context.Context, orderID, currency string) (*payment.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return nil, p.createErr
	}
	if in, ok := p.intents[orderID]; ok {
		return in, nil
	}
	p.creates++
	if currency == "" {
		currency = "inr"
	}
	o := p.orders.byID[orderID]
	in := &payment.Intent{
		ID:           fmt.Sprintf("pi_%d", p.creates),
		OrderID:      orderID,
		Amount:       pricing.MinorUnits(o.Total),
		Currency:     currency,
		Status:       payment.StatusRequiresPayment,
		ClientSecret: fmt.Sprintf("pi_%d_secret", p.creates),
	}
	p.intents[orderID] = in
	return in, nil
}

func (p *fakePayments) ConfirmPayment(_ context.Context, orderID, intentID string) (*payment.Confirmation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confirms++
	if p.confirmErr != nil {
		return nil, p.confirmErr
	}
	p.orders.setStatus(orderID, order.StatusConfirmed)
	return &payment.Confirmation{Intent: p.intents[orderID]}, nil
}

func (p *fakePayments) Abandon(_ context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.abandoned = append(p.abandoned, orderID)
	delete(p.intents, orderID)
	p.orders.setStatus(orderID, order.StatusCancelled)
	return nil
}

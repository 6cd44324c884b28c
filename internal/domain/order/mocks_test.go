package order

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/cravekart/internal/domain/fooditem"
	"github.com/xenking/cravekart/internal/domain/offer"
	"github.com/xenking/cravekart/internal/domain/shop"
	"github.com/xenking/cravekart/internal/domain/user"
	"github.com/xenking/cravekart/internal/events"
)

const (
	customerID = "6f1b2c3d-0000-4000-8000-000000000001"
	otherUser  = "6f1b2c3d-0000-4000-8000-000000000002"
	shopID     = "7a1b2c3d-0000-4000-8000-000000000001"
	otherShop  = "7a1b2c3d-0000-4000-8000-000000000002"
	burgerID   = "8b1b2c3d-0000-4000-8000-000000000001"
	friesID    = "8b1b2c3d-0000-4000-8000-000000000002"
	sushiID    = "8b1b2c3d-0000-4000-8000-000000000003"
	missingID  = "8b1b2c3d-0000-4000-8000-0000000000ff"
)

type mockUserRepo struct {
	byID  map[string]*user.User
	calls int
}

func (m *mockUserRepo) FindByID(_ context.Context, id string) (*user.User, error) {
	m.calls++
	u, ok := m.byID[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	return u, nil
}

func (m *mockUserRepo) FindByEmail(_ context.Context, _ string) (*user.User, error) {
	return nil, user.ErrNotFound
}

type mockShopRepo struct {
	byID map[string]*shop.Shop
}

func (m *mockShopRepo) FindByID(_ context.Context, id string) (*shop.Shop, error) {
	s, ok := m.byID[id]
	if !ok {
		return nil, shop.ErrNotFound
	}
	return s, nil
}

type mockFoodRepo struct {
	byID  map[string]*fooditem.FoodItem
	calls int
}

func (m *mockFoodRepo) FindByID(_ context.Context, id string) (*fooditem.FoodItem, error) {
	m.calls++
	f, ok := m.byID[id]
	if !ok {
		return nil, fooditem.ErrNotFound
	}
	return f, nil
}

func (m *mockFoodRepo) ListByShop(_ context.Context, shopID string) ([]fooditem.FoodItem, error) {
	var out []fooditem.FoodItem
	for _, f := range m.byID {
		if f.ShopID == shopID {
			out = append(out, *f)
		}
	}
	return out, nil
}

type mockOfferValidator struct {
	discount *offer.Discount
	err      error
	redeemed []string
}

func (m *mockOfferValidator) Validate(_ context.Context, _, _ string, _ []offer.Item) (*offer.Discount, error) {
	return m.discount, m.err
}

func (m *mockOfferValidator) Redeem(_ context.Context, id string) error {
	m.redeemed = append(m.redeemed, id)
	return nil
}

// memOrderRepo is an in-memory Repository honouring version checks.
type memOrderRepo struct {
	mu      sync.Mutex
	byID    map[string]Order
	created int
	// extra rows returned by FindByCustomer regardless of the filter.
	leak     []Order
	conflict int
	// missKeys makes the next FindByCheckoutKey calls report ErrNotFound,
	// as if a concurrent insert had not landed yet.
	missKeys int
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{byID: map[string]Order{}}
}

func (m *memOrderRepo) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.CheckoutKey != "" {
		for _, existing := range m.byID {
			if existing.CheckoutKey == o.CheckoutKey {
				return ErrDuplicateCheckoutKey
			}
		}
	}
	m.byID[o.ID] = *o
	m.created++
	return nil
}

func (m *memOrderRepo) FindByID(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (m *memOrderRepo) FindByCheckoutKey(_ context.Context, key string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.missKeys > 0 {
		m.missKeys--
		return nil, ErrNotFound
	}
	for _, o := range m.byID {
		if o.CheckoutKey == key {
			return &o, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memOrderRepo) FindByCustomer(_ context.Context, customerID string) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]Order(nil), m.leak...)
	for _, o := range m.byID {
		if o.CustomerID == customerID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memOrderRepo) FindByShop(_ context.Context, shopID string) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.byID {
		if o.ShopID == shopID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memOrderRepo) UpdateStatus(_ context.Context, id string, status Status, expectedVersion int) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if m.conflict > 0 {
		// Simulate a concurrent writer bumping the version.
		m.conflict--
		o.Version++
		m.byID[id] = o
		return nil, ErrVersionConflict
	}
	if o.Version != expectedVersion {
		return nil, ErrVersionConflict
	}
	o.Status = status
	o.Version++
	m.byID[id] = o
	return &o, nil
}

func (m *memOrderRepo) ListByStatusBefore(_ context.Context, status Status, before time.Time, limit int) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.byID {
		if o.Status == status && o.CreatedAt.Before(before) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type recordingPublisher struct {
	events []events.Event
}

func (r *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	r.events = append(r.events, e)
	return nil
}

type fixture struct {
	users  *mockUserRepo
	foods  *mockFoodRepo
	offers *mockOfferValidator
	orders *memOrderRepo
	pub    *recordingPublisher
}

func newFixture() *fixture {
	return &fixture{
		users: &mockUserRepo{byID: map[string]*user.User{
			customerID: {ID: customerID, Name: "Asha", Type: user.TypeCustomer},
			otherUser:  {ID: otherUser, Name: "Ravi", Type: user.TypeCustomer},
		}},
		foods: &mockFoodRepo{byID: map[string]*fooditem.FoodItem{
			burgerID: {ID: burgerID, ShopID: shopID, Name: "Burger", Price: decimal.RequireFromString("100.00"), Available: true},
			friesID:  {ID: friesID, ShopID: shopID, Name: "Fries", Price: decimal.RequireFromString("50.00"), Available: true},
			sushiID:  {ID: sushiID, ShopID: otherShop, Name: "Sushi", Price: decimal.RequireFromString("300.00"), Available: true},
		}},
		offers: &mockOfferValidator{},
		orders: newMemOrderRepo(),
		pub:    &recordingPublisher{},
	}
}

func (f *fixture) shops() *mockShopRepo {
	return &mockShopRepo{byID: map[string]*shop.Shop{
		shopID:    {ID: shopID, Name: "Burger Barn", Status: shop.StatusApproved},
		otherShop: {ID: otherShop, Name: "Sushi Stop", Status: shop.StatusApproved},
	}}
}

func (f *fixture) validator() *Validator {
	return NewValidator(f.users, f.shops(), f.foods)
}

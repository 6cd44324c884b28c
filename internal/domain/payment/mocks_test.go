package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/cravekart/internal/domain/order"
	"github.com/xenking/cravekart/internal/events"
)

type memOrders struct {
	mu   sync.Mutex
	byID map[string]*order.Order
}

func newMemOrders(orders ...*order.Order) *memOrders {
	m := &memOrders{byID: map[string]*order.Order{}}
	for _, o := range orders {
		m.byID[o.ID] = o
	}
	return m
}

func (m *memOrders) Get(_ context.Context, id string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrders) move(id string, to order.Status, done func(order.Status) bool) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	if done(o.Status) {
		cp := *o
		return &cp, nil
	}
	if o.Status != order.StatusPaymentPending {
		return nil, &order.InvalidTransitionError{From: o.Status, To: to}
	}
	o.Status = to
	o.Version++
	cp := *o
	return &cp, nil
}

func (m *memOrders) MarkPaid(_ context.Context, id string) (*order.Order, error) {
	return m.move(id, order.StatusConfirmed, order.Status.Paid)
}

func (m *memOrders) CancelUnpaid(_ context.Context, id string) (*order.Order, error) {
	return m.move(id, order.StatusCancelled, func(s order.Status) bool { return s == order.StatusCancelled })
}

func (m *memOrders) ListAwaitingPayment(_ context.Context, before time.Time, limit int) ([]order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []order.Order
	for _, o := range m.byID {
		if o.Status == order.StatusPaymentPending && o.CreatedAt.Before(before) && len(out) < limit {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *memOrders) status(id string) order.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id].Status
}

type memIntents struct {
	mu          sync.Mutex
	byOrder     map[string]*Intent
	events      map[string]string
	checkCalls  int
	recordCalls int
}

func newMemIntents() *memIntents {
	return &memIntents{byOrder: map[string]*Intent{}, events: map[string]string{}}
}

func (m *memIntents) Save(_ context.Context, in *Intent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *in
	m.byOrder[in.OrderID] = &cp
	return nil
}

func (m *memIntents) FindByID(_ context.Context, id string) (*Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, in := range m.byOrder {
		if in.ID == id {
			cp := *in
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memIntents) FindByOrder(_ context.Context, orderID string) (*Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.byOrder[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *in
	return &cp, nil
}

func (m *memIntents) UpdateStatus(_ context.Context, id string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, in := range m.byOrder {
		if in.ID == id {
			in.Status = status
			return nil
		}
	}
	return ErrNotFound
}

func (m *memIntents) EventProcessed(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkCalls++
	_, ok := m.events[eventID]
	return ok, nil
}

func (m *memIntents) RecordEvent(_ context.Context, eventID, eventType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordCalls++
	m.events[eventID] = eventType
	return nil
}

func (m *memIntents) RecentEvents(_ context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id := range m.events {
		if len(out) == limit {
			break
		}
		out = append(out, id)
	}
	return out, nil
}

// fakeProvider keeps intents in memory and honours idempotency keys.
type fakeProvider struct {
	mu        sync.Mutex
	intents   map[string]*ProviderIntent
	keys      map[string]string
	creates   int
	cancels   int
	createErr error
	seq       int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{intents: map[string]*ProviderIntent{}, keys: map[string]string{}}
}

func (p *fakeProvider) CreateIntent(_ context.Context, params CreateIntentParams) (*ProviderIntent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return nil, p.createErr
	}
	if id, ok := p.keys[params.IdempotencyKey]; ok {
		cp := *p.intents[id]
		return &cp, nil
	}
	p.creates++
	p.seq++
	pi := &ProviderIntent{
		ID:           fmt.Sprintf("pi_%d", p.seq),
		Amount:       params.Amount,
		Currency:     params.Currency,
		Status:       StatusRequiresPayment,
		ClientSecret: fmt.Sprintf("pi_%d_secret", p.seq),
		Metadata:     params.Metadata,
	}
	p.intents[pi.ID] = pi
	p.keys[params.IdempotencyKey] = pi.ID
	cp := *pi
	return &cp, nil
}

func (p *fakeProvider) RetrieveIntent(_ context.Context, id string) (*ProviderIntent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pi, ok := p.intents[id]
	if !ok {
		return nil, fmt.Errorf("no such intent %s", id)
	}
	cp := *pi
	return &cp, nil
}

func (p *fakeProvider) CancelIntent(_ context.Context, id string) (*ProviderIntent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pi, ok := p.intents[id]
	if !ok {
		return nil, fmt.Errorf("no such intent %s", id)
	}
	p.cancels++
	pi.Status = StatusCancelled
	cp := *pi
	return &cp, nil
}

func (p *fakeProvider) ParseWebhook(_ []byte, _ string) (*WebhookEvent, error) {
	return nil, ErrInvalidSignature
}

func (p *fakeProvider) set(id string, mod func(pi *ProviderIntent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	mod(p.intents[id])
}

func pendingOrder(id string, total string, created time.Time) *order.Order {
	return &order.Order{
		ID:         id,
		CustomerID: "customer",
		ShopID:     "shop",
		Total:      decimal.RequireFromString(total),
		Status:     order.StatusPaymentPending,
		Version:    1,
		CreatedAt:  created,
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingPublisher) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

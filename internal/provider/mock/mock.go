// Package mock is an in-process payment.Provider for development and demos.
// Intents are kept in memory; with AutoSucceed every retrieved intent is
// reported as paid, standing in for a customer completing the payment form.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/cravekart/internal/domain/payment"
	"github.com/xenking/cravekart/internal/provider/stripe"
)

var errNoSuchIntent = errors.New("no such payment intent")

var _ payment.Provider = (*Provider)(nil)

// Provider is the mock gateway.
type Provider struct {
	autoSucceed   bool
	webhookSecret string

	mu      sync.Mutex
	intents map[string]*payment.ProviderIntent
	keys    map[string]string
}

// New creates a mock Provider. Webhooks are verified with webhookSecret
// using the Stripe signature scheme.
func New(autoSucceed bool, webhookSecret string) *Provider {
	return &Provider{
		autoSucceed:   autoSucceed,
		webhookSecret: webhookSecret,
		intents:       map[string]*payment.ProviderIntent{},
		keys:          map[string]string{},
	}
}

func (p *Provider) CreateIntent(_ context.Context, params payment.CreateIntentParams) (*payment.ProviderIntent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id, ok := p.keys[params.IdempotencyKey]; ok && params.IdempotencyKey != "" {
		return clone(p.intents[id]), nil
	}

	id := "pi_mock_" + uuid.NewString()
	pi := &payment.ProviderIntent{
		ID:           id,
		Amount:       params.Amount,
		Currency:     params.Currency,
		Status:       payment.StatusRequiresPayment,
		ClientSecret: id + "_secret",
		Metadata:     params.Metadata,
	}
	p.intents[id] = pi
	if params.IdempotencyKey != "" {
		p.keys[params.IdempotencyKey] = id
	}
	return clone(pi), nil
}

func (p *Provider) RetrieveIntent(_ context.Context, id string) (*payment.ProviderIntent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pi, ok := p.intents[id]
	if !ok {
		return nil, errNoSuchIntent
	}
	if p.autoSucceed && pi.Status == payment.StatusRequiresPayment {
		pi.Status = payment.StatusSucceeded
	}
	return clone(pi), nil
}

func (p *Provider) CancelIntent(_ context.Context, id string) (*payment.ProviderIntent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pi, ok := p.intents[id]
	if !ok {
		return nil, errNoSuchIntent
	}
	if pi.Status == payment.StatusSucceeded {
		return nil, errors.New("cannot cancel a succeeded payment intent")
	}
	pi.Status = payment.StatusCancelled
	return clone(pi), nil
}

// SetStatus forces the status of an intent.
func (p *Provider) SetStatus(id string, status payment.Status) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pi, ok := p.intents[id]
	if !ok {
		return errNoSuchIntent
	}
	pi.Status = status
	return nil
}

func (p *Provider) ParseWebhook(payload []byte, signature string) (*payment.WebhookEvent, error) {
	return stripe.ParseEvent(payload, signature, p.webhookSecret, 5*time.Minute, time.Now())
}

func clone(pi *payment.ProviderIntent) *payment.ProviderIntent {
	cp := *pi
	if pi.Metadata != nil {
		cp.Metadata = make(map[string]string, len(pi.Metadata))
		for k, v := range pi.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

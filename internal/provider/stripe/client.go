// Package stripe is a payment.Provider backed by the Stripe PaymentIntents
// REST API.
package stripe

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-resty/resty/v2"

	"github.com/xenking/cravekart/internal/domain/payment"
)

// DefaultBaseURL is the Stripe API endpoint.
const DefaultBaseURL = "https://api.stripe.com"

// Config configures the client.
type Config struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string
	Timeout       time.Duration
	// WebhookTolerance bounds the age of a webhook signature timestamp.
	WebhookTolerance time.Duration
}

// Error is a non-2xx API response.
type Error struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("stripe: %d %s (%s): %s", e.StatusCode, e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("stripe: %d %s: %s", e.StatusCode, e.Type, e.Message)
}

// IsRetryable reports whether a failed call may succeed when repeated with
// the same idempotency key: transport errors, rate limiting and server
// errors are, request errors are not.
func IsRetryable(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return true
	}
	return apiErr.StatusCode == http.StatusTooManyRequests ||
		apiErr.StatusCode == http.StatusConflict ||
		apiErr.StatusCode >= http.StatusInternalServerError
}

var _ payment.Provider = (*Client)(nil)

// Client calls the Stripe API.
type Client struct {
	http          *resty.Client
	webhookSecret string
	tolerance     time.Duration
	now           func() time.Time
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.WebhookTolerance == 0 {
		cfg.WebhookTolerance = 5 * time.Minute
	}
	return &Client{
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(cfg.Timeout).
			SetBasicAuth(cfg.SecretKey, "").
			SetHeader("Accept", "application/json").
			SetRetryCount(0),
		webhookSecret: cfg.WebhookSecret,
		tolerance:     cfg.WebhookTolerance,
		now:           time.Now,
	}
}

func (c *Client) CreateIntent(ctx context.Context, p payment.CreateIntentParams) (*payment.ProviderIntent, error) {
	form := map[string]string{
		"amount":                             strconv.FormatInt(p.Amount, 10),
		"currency":                           p.Currency,
		"automatic_payment_methods[enabled]": "true",
	}
	for k, v := range p.Metadata {
		form["metadata["+k+"]"] = v
	}

	req := c.http.R().SetContext(ctx).SetFormData(form)
	if p.IdempotencyKey != "" {
		req.SetHeader("Idempotency-Key", p.IdempotencyKey)
	}
	resp, err := req.Post("/v1/payment_intents")
	return c.intent(resp, err, "create")
}

func (c *Client) RetrieveIntent(ctx context.Context, id string) (*payment.ProviderIntent, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		Get("/v1/payment_intents/{id}")
	return c.intent(resp, err, "retrieve")
}

func (c *Client) CancelIntent(ctx context.Context, id string) (*payment.ProviderIntent, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetHeader("Idempotency-Key", "cancel:"+id).
		Post("/v1/payment_intents/{id}/cancel")
	return c.intent(resp, err, "cancel")
}

func (c *Client) intent(resp *resty.Response, err error, op string) (*payment.ProviderIntent, error) {
	if err != nil {
		return nil, errors.Wrapf(err, "%s payment intent", op)
	}
	if resp.IsError() {
		return nil, decodeError(resp.StatusCode(), resp.Body())
	}
	pi, err := decodeIntent(resp.Body())
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s response", op)
	}
	return pi, nil
}

// Package rabbitmq publishes domain events to a RabbitMQ topic exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-faster/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/xenking/cravekart/internal/events"
)

// DefaultExchange receives every order and payment event. Consumers bind
// queues with patterns such as "order.*" or "payment.succeeded".
const DefaultExchange = "cravekart.events"

// ErrNacked is returned when the broker refuses a published event.
var ErrNacked = errors.New("event was not acknowledged by broker")

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Confirm(noWait bool) error
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
	Close() error
}

var (
	_ events.Publisher = (*Publisher)(nil)
	_ Channel          = (*amqp.Channel)(nil)
)

// Publisher implements events.Publisher. The event type is the routing key.
type Publisher struct {
	conn     *amqp.Connection
	ch       Channel
	exchange string

	// Serializes publishes so confirmations arrive in publish order.
	mu sync.Mutex
}

// Dial connects to the broker at url and prepares a publisher on exchange.
func Dial(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial amqp")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open channel")
	}
	p, err := NewPublisher(ch, exchange)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// NewPublisher declares a durable topic exchange on ch and enables publisher
// confirms.
func NewPublisher(ch Channel, exchange string) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable confirm mode: %w", err)
	}
	return &Publisher{ch: ch, exchange: exchange}, nil
}

// Publish sends e and waits for the broker confirmation.
func (p *Publisher) Publish(ctx context.Context, e events.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID,
		Timestamp:    e.OccurredAt,
		Type:         string(e.Type),
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	dc, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, string(e.Type), false, false, msg)
	if err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	if dc == nil {
		// Channel is not in confirm mode.
		return nil
	}
	ok, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm for %s: %w", e.Type, err)
	}
	if !ok {
		return errors.Wrapf(ErrNacked, "event %s", e.ID)
	}
	return nil
}

// Ping reports whether the broker connection is still open.
func (p *Publisher) Ping(context.Context) error {
	if p.conn != nil && p.conn.IsClosed() {
		return errors.New("amqp connection closed")
	}
	return nil
}

// Close releases the channel and the connection.
func (p *Publisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

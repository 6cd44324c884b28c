package rabbitmq

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/go-faster/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/cravekart/internal/events"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	declared   []string
	kind       string
	durable    bool
	confirmed  bool
	declareErr error
	publishErr error
	sent       []published
	closed     bool
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	if f.declareErr != nil {
		return f.declareErr
	}
	f.declared = append(f.declared, name)
	f.kind = kind
	f.durable = durable
	return nil
}

func (f *fakeChannel) Confirm(bool) error {
	f.confirmed = true
	return nil
}

func (f *fakeChannel) PublishWithDeferredConfirmWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error) {
	if f.publishErr != nil {
		return nil, f.publishErr
	}
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return nil, nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestNewPublisher_DeclaresDurableTopicExchange(t *testing.T) {
	ch := &fakeChannel{}

	_, err := NewPublisher(ch, "")
	require.NoError(t, err)

	assert.Equal(t, []string{DefaultExchange}, ch.declared)
	assert.Equal(t, "topic", ch.kind)
	assert.True(t, ch.durable)
	assert.True(t, ch.confirmed)
}

func TestNewPublisher_DeclareFails(t *testing.T) {
	ch := &fakeChannel{declareErr: errors.New("access refused")}

	_, err := NewPublisher(ch, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declare exchange")
}

func TestPublish_RoutesByEventType(t *testing.T) {
	ch := &fakeChannel{}
	p, err := NewPublisher(ch, "orders")
	require.NoError(t, err)

	e := events.New(events.PaymentSucceeded, "order-1")
	e.Amount = 25199
	e.Currency = "inr"
	require.NoError(t, p.Publish(context.Background(), e))

	require.Len(t, ch.sent, 1)
	got := ch.sent[0]
	assert.Equal(t, "orders", got.exchange)
	assert.Equal(t, "payment.succeeded", got.key)
	assert.Equal(t, "application/json", got.msg.ContentType)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	assert.Equal(t, e.ID, got.msg.MessageId)

	var body events.Event
	require.NoError(t, json.Unmarshal(got.msg.Body, &body))
	assert.Equal(t, "order-1", body.OrderID)
	assert.Equal(t, int64(25199), body.Amount)
}

func TestPublish_Error(t *testing.T) {
	ch := &fakeChannel{}
	p, err := NewPublisher(ch, "orders")
	require.NoError(t, err)
	ch.publishErr = amqp.ErrClosed

	err = p.Publish(context.Background(), events.New(events.OrderCreated, "order-1"))
	require.ErrorIs(t, err, amqp.ErrClosed)
}

func TestClose(t *testing.T) {
	ch := &fakeChannel{}
	p, err := NewPublisher(ch, "orders")
	require.NoError(t, err)

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
	require.NoError(t, p.Ping(context.Background()))
}

package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/cravekart/internal/domain/payment"
)

// ParseWebhook verifies the Stripe-Signature header and decodes the event.
func (c *Client) ParseWebhook(payload []byte, signature string) (*payment.WebhookEvent, error) {
	return ParseEvent(payload, signature, c.webhookSecret, c.tolerance, c.now())
}

// Sign returns a Stripe-Signature header value for payload at time t.
func Sign(payload []byte, secret string, t time.Time) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	return "t=" + ts + ",v1=" + computeSignature(ts, payload, secret)
}

// ParseEvent verifies header against payload and decodes a payment intent
// event. Signatures older than tolerance relative to now are rejected.
func ParseEvent(payload []byte, header, secret string, tolerance time.Duration, now time.Time) (*payment.WebhookEvent, error) {
	if err := verify(payload, header, secret, tolerance, now); err != nil {
		return nil, err
	}
	return decodeEvent(payload)
}

func verify(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if secret == "" {
		return errors.Wrap(payment.ErrInvalidSignature, "webhook secret not configured")
	}
	var (
		ts   string
		sigs []string
	)
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return errors.Wrap(payment.ErrInvalidSignature, "malformed header")
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return errors.Wrap(payment.ErrInvalidSignature, "malformed timestamp")
	}
	if age := now.Sub(time.Unix(unix, 0)); tolerance > 0 && (age > tolerance || age < -tolerance) {
		return errors.Wrap(payment.ErrInvalidSignature, "timestamp outside tolerance")
	}

	expected := []byte(computeSignature(ts, payload, secret))
	for _, s := range sigs {
		if hmac.Equal(expected, []byte(s)) {
			return nil
		}
	}
	return payment.ErrInvalidSignature
}

func computeSignature(ts string, payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte{'.'})
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func decodeEvent(payload []byte) (*payment.WebhookEvent, error) {
	var (
		ev     payment.WebhookEvent
		object []byte
	)
	d := jx.DecodeBytes(payload)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "id":
			v, err := d.Str()
			ev.ID = v
			return err
		case "type":
			v, err := d.Str()
			ev.Type = v
			return err
		case "data":
			return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				if string(key) != "object" {
					return d.Skip()
				}
				raw, err := d.Raw()
				object = append([]byte(nil), raw...)
				return err
			})
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, errors.Wrap(err, "decode event")
	}
	if ev.ID == "" || ev.Type == "" {
		return nil, errors.New("event without id or type")
	}
	if strings.HasPrefix(ev.Type, "payment_intent.") && object != nil {
		pi, err := decodeIntent(object)
		if err != nil {
			return nil, errors.Wrap(err, "decode event object")
		}
		ev.Intent = *pi
	}
	return &ev, nil
}

package stripe

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/cravekart/internal/domain/payment"
)

// mapStatus folds Stripe intent statuses onto the local ones. A
// requires_payment_method intent carrying a last payment error was declined.
func mapStatus(status string, declined bool) payment.Status {
	switch status {
	case "succeeded":
		return payment.StatusSucceeded
	case "canceled":
		return payment.StatusCancelled
	case "processing", "requires_capture":
		return payment.StatusProcessing
	case "requires_payment_method":
		if declined {
			return payment.StatusFailed
		}
		return payment.StatusRequiresPayment
	default:
		return payment.StatusRequiresPayment
	}
}

func decodeIntent(data []byte) (*payment.ProviderIntent, error) {
	return readIntent(jx.DecodeBytes(data))
}

func readIntent(d *jx.Decoder) (*payment.ProviderIntent, error) {
	var (
		pi       payment.ProviderIntent
		status   string
		declined bool
	)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "id":
			v, err := d.Str()
			pi.ID = v
			return err
		case "amount":
			v, err := d.Int64()
			pi.Amount = v
			return err
		case "currency":
			v, err := d.Str()
			pi.Currency = v
			return err
		case "status":
			v, err := d.Str()
			status = v
			return err
		case "client_secret":
			if d.Next() == jx.Null {
				return d.Null()
			}
			v, err := d.Str()
			pi.ClientSecret = v
			return err
		case "last_payment_error":
			declined = d.Next() != jx.Null
			return d.Skip()
		case "metadata":
			pi.Metadata = map[string]string{}
			return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				v, err := d.Str()
				pi.Metadata[string(key)] = v
				return err
			})
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, err
	}
	if pi.ID == "" {
		return nil, errors.New("payment intent without id")
	}
	pi.Status = mapStatus(status, declined)
	return &pi, nil
}

func decodeError(statusCode int, data []byte) error {
	apiErr := &Error{StatusCode: statusCode}
	d := jx.DecodeBytes(data)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "error" {
			return d.Skip()
		}
		return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			switch string(key) {
			case "type":
				v, err := d.Str()
				apiErr.Type = v
				return err
			case "code":
				v, err := d.Str()
				apiErr.Code = v
				return err
			case "message":
				v, err := d.Str()
				apiErr.Message = v
				return err
			default:
				return d.Skip()
			}
		})
	})
	if err != nil && apiErr.Message == "" {
		apiErr.Message = string(data)
	}
	return apiErr
}

package handler

import (
	"bytes"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/cravekart/internal/domain/checkout"
	"github.com/xenking/cravekart/internal/domain/fooditem"
	"github.com/xenking/cravekart/internal/domain/order"
	"github.com/xenking/cravekart/internal/domain/payment"
	"github.com/xenking/cravekart/internal/domain/pricing"
	"github.com/xenking/cravekart/internal/domain/shop"
	"github.com/xenking/cravekart/internal/domain/user"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, code int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}

func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	if len(data) > maxBodyBytes {
		return nil, badRequest("request body too large")
	}
	return data, nil
}

// decodeObject reads the request body as a JSON object and calls field for
// every key. Unknown keys must be skipped by field.
func decodeObject(r *http.Request, field func(d *jx.Decoder, key string) error) error {
	data, err := readBody(r)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return badRequest("request body is required")
	}
	d := jx.DecodeBytes(data)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		return field(d, string(key))
	}); err != nil {
		var reqErr *requestError
		if errors.As(err, &reqErr) {
			return err
		}
		return badRequest("malformed JSON body: " + err.Error())
	}
	return nil
}

// decodeDecimal accepts a JSON number, a numeric string or null.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(string(n))
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		v, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, badRequest("invalid amount " + s)
		}
		return v, nil
	case jx.Null:
		return decimal.Zero, d.Null()
	default:
		return decimal.Zero, badRequest("amount must be a number")
	}
}

// decodeOptionalDecimal keeps a JSON null apart from an explicit amount.
func decodeOptionalDecimal(d *jx.Decoder) (decimal.NullDecimal, error) {
	if d.Next() == jx.Null {
		return decimal.NullDecimal{}, d.Null()
	}
	v, err := decodeDecimal(d)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(v), nil
}

func money(e *jx.Encoder, field string, v decimal.Decimal) {
	e.FieldStart(field)
	e.Raw([]byte(v.StringFixed(2)))
}

func timestamp(e *jx.Encoder, field string, t time.Time) {
	e.FieldStart(field)
	e.Str(t.UTC().Format(time.RFC3339))
}

func optStr(e *jx.Encoder, field, v string) {
	if v == "" {
		return
	}
	e.FieldStart(field)
	e.Str(v)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("customerId")
	e.Str(o.CustomerID)
	e.FieldStart("shopId")
	e.Str(o.ShopID)
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("foodItem")
		e.Str(it.FoodItemID)
		e.FieldStart("name")
		e.Str(it.Name)
		money(e, "unitPrice", it.UnitPrice)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		money(e, "price", it.Price)
		e.ObjEnd()
	}
	e.ArrEnd()
	money(e, "subtotal", o.Subtotal)
	optStr(e, "appliedOfferId", o.OfferID)
	money(e, "offerDiscount", o.OfferCut)
	money(e, "discount", o.Discount)
	money(e, "tax", o.Tax)
	money(e, "deliveryFee", o.DeliveryFee)
	money(e, "totalAmount", o.Total)
	e.FieldStart("address")
	e.Str(o.Address)
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("version")
	e.Int(o.Version)
	timestamp(e, "createdAt", o.CreatedAt)
	timestamp(e, "updatedAt", o.UpdatedAt)
	e.ObjEnd()
}

func encodeOrders(e *jx.Encoder, orders []order.Order) {
	e.ArrStart()
	for i := range orders {
		encodeOrder(e, &orders[i])
	}
	e.ArrEnd()
}

func encodeIntent(e *jx.Encoder, in *payment.Intent) {
	e.ObjStart()
	e.FieldStart("intentId")
	e.Str(in.ID)
	e.FieldStart("orderId")
	e.Str(in.OrderID)
	e.FieldStart("clientSecret")
	e.Str(in.ClientSecret)
	e.FieldStart("amount")
	e.Int64(in.Amount)
	e.FieldStart("currency")
	e.Str(in.Currency)
	e.FieldStart("status")
	e.Str(string(in.Status))
	e.ObjEnd()
}

func encodeBreakdown(e *jx.Encoder, b pricing.Breakdown) {
	e.ObjStart()
	money(e, "subtotal", b.Subtotal)
	money(e, "offerDiscount", b.OfferDiscount)
	money(e, "discount", b.Discount)
	money(e, "taxable", b.Taxable)
	money(e, "tax", b.Tax)
	money(e, "deliveryFee", b.DeliveryFee)
	money(e, "total", b.Total)
	e.FieldStart("totalMinor")
	e.Int64(pricing.MinorUnits(b.Total))
	e.ObjEnd()
}

func encodeUser(e *jx.Encoder, u *user.User) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(u.ID)
	e.FieldStart("name")
	e.Str(u.Name)
	e.FieldStart("email")
	e.Str(u.Email)
	e.FieldStart("userType")
	e.Str(string(u.Type))
	timestamp(e, "createdAt", u.CreatedAt)
	e.ObjEnd()
}

func encodeShop(e *jx.Encoder, s *shop.Shop) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(s.ID)
	e.FieldStart("ownerId")
	e.Str(s.OwnerID)
	e.FieldStart("name")
	e.Str(s.Name)
	e.FieldStart("description")
	e.Str(s.Description)
	e.FieldStart("logo")
	e.Str(s.Logo)
	e.FieldStart("categories")
	e.ArrStart()
	for _, c := range s.Categories {
		e.Str(c)
	}
	e.ArrEnd()
	e.FieldStart("status")
	e.Str(string(s.Status))
	timestamp(e, "createdAt", s.CreatedAt)
	e.ObjEnd()
}

func encodeFoodItem(e *jx.Encoder, f *fooditem.FoodItem) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(f.ID)
	e.FieldStart("shopId")
	e.Str(f.ShopID)
	e.FieldStart("name")
	e.Str(f.Name)
	e.FieldStart("description")
	e.Str(f.Description)
	money(e, "price", f.Price)
	e.FieldStart("category")
	e.Str(f.Category)
	e.FieldStart("image")
	e.Str(f.Image)
	e.FieldStart("isAvailable")
	e.Bool(f.Available)
	e.ObjEnd()
}

func encodeSession(e *jx.Encoder, s *checkout.Session) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(s.ID)
	e.FieldStart("customerId")
	e.Str(s.CustomerID)
	optStr(e, "shopId", s.ShopID)
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range s.Items {
		e.ObjStart()
		e.FieldStart("foodItemId")
		e.Str(it.FoodItemID)
		e.FieldStart("name")
		e.Str(it.Name)
		money(e, "unitPrice", it.UnitPrice)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("state")
	e.Str(string(s.State))
	if s.Details != nil {
		e.FieldStart("details")
		e.ObjStart()
		e.FieldStart("address")
		e.Str(s.Details.Address)
		e.FieldStart("city")
		e.Str(s.Details.City)
		e.FieldStart("zip")
		e.Str(s.Details.Zip)
		e.FieldStart("phone")
		e.Str(s.Details.Phone)
		optStr(e, "instructions", s.Details.Instructions)
		e.ObjEnd()
	}
	optStr(e, "offerId", s.OfferID)
	optStr(e, "orderId", s.OrderID)
	optStr(e, "paymentIntentId", s.IntentID)
	optStr(e, "clientSecret", s.ClientSecret)
	if s.Amount > 0 {
		e.FieldStart("amount")
		e.Int64(s.Amount)
	}
	optStr(e, "currency", s.Currency)
	optStr(e, "lastError", s.LastError)
	e.FieldStart("completed")
	e.Bool(s.Completed)
	e.FieldStart("version")
	e.Int(s.Version)
	timestamp(e, "updatedAt", s.UpdatedAt)
	e.ObjEnd()
}

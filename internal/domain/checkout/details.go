package checkout

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/go-faster/errors"
)

// ErrValidation is the cause of every ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError lists per-field form problems.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %s", k, e.Fields[k])
	}
	return "invalid delivery details: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Details is the delivery form of a checkout.
type Details struct {
	Address      string `json:"address"`
	City         string `json:"city"`
	Zip          string `json:"zip"`
	Phone        string `json:"phone"`
	Instructions string `json:"instructions,omitempty"`
}

// Normalize trims surrounding whitespace of every field.
func (d Details) Normalize() Details {
	return Details{
		Address:      strings.TrimSpace(d.Address),
		City:         strings.TrimSpace(d.City),
		Zip:          strings.TrimSpace(d.Zip),
		Phone:        strings.TrimSpace(d.Phone),
		Instructions: strings.TrimSpace(d.Instructions),
	}
}

// Validate checks the form: address of at least 3 characters, city of at
// least 2, a zip of at least 5 digits and a phone number of at least 10
// digits. Phone separators (spaces, dashes, dots, parentheses, a leading
// plus) are accepted.
func (d Details) Validate() error {
	fields := map[string]string{}
	if utf8.RuneCountInString(d.Address) < 3 {
		fields["address"] = "must be at least 3 characters"
	}
	if utf8.RuneCountInString(d.City) < 2 {
		fields["city"] = "must be at least 2 characters"
	}
	if !allDigits(d.Zip) || len(d.Zip) < 5 {
		fields["zip"] = "must be at least 5 digits"
	}
	if n, ok := phoneDigits(d.Phone); !ok || n < 10 {
		fields["phone"] = "must be at least 10 digits"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// FullAddress renders the single delivery address line stored on the order.
func (d Details) FullAddress() string {
	s := fmt.Sprintf("%s, %s %s. Phone: %s", d.Address, d.City, d.Zip, d.Phone)
	if d.Instructions != "" {
		s += ". Notes: " + d.Instructions
	}
	return s
}

func allDigits(s string) bool {
	for _, r := range s {
		if !isDigit(r) {
			return false
		}
	}
	return s != ""
}

func phoneDigits(s string) (int, bool) {
	n := 0
	for i, r := range s {
		switch {
		case isDigit(r):
			n++
		case r == '+' && i == 0:
		case r == ' ', r == '-', r == '.', r == '(', r == ')':
		default:
			return 0, false
		}
	}
	return n, true
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

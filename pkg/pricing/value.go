package pricing

import (
	"bytes"
	"math"
	"strings"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// Value is one upstream numeric in whichever shape the API chose to send it.
// Every variant has exactly one coercion to float64.
type Value interface {
	Float() (float64, bool)
}

// StringValue is a price or size sent as a JSON string ("0.55").
type StringValue string

// NumberValue is a price or size sent as a JSON number.
type NumberValue float64

// NullValue is an absent, null or otherwise undecodable field.
type NullValue struct{}

func (s StringValue) Float() (float64, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(string(s)))
	if err != nil {
		return 0, false
	}
	f, _ := d.Float64()
	return f, finite(f)
}

func (n NumberValue) Float() (float64, bool) {
	f := float64(n)
	return f, finite(f)
}

func (NullValue) Float() (float64, bool) { return 0, false }

// decodeValue picks the variant from the first byte of the raw token.
func decodeValue(raw []byte) Value {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return NullValue{}
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return NullValue{}
		}
		return StringValue(s)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return NullValue{}
	}
	return NumberValue(f)
}

// Numeric embeds a decoded Value so it can sit inside JSON structs.
// Decoding never fails; bad input becomes NullValue.
type Numeric struct {
	Value
}

func (n *Numeric) UnmarshalJSON(b []byte) error {
	n.Value = decodeValue(b)
	return nil
}

func (n Numeric) Float() (float64, bool) {
	if n.Value == nil {
		return 0, false
	}
	return n.Value.Float()
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

package pricing

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// Quote is one normalized [price, size] entry of a book side.
type Quote struct {
	Price float64
	Size  float64
}

// RawBook is an upstream book after shape normalization but before ranking.
type RawBook struct {
	Bids []Quote
	Asks []Quote
}

// sideShape is one wire representation of a book side.
type sideShape interface {
	quotes() []Quote
}

// pairSide: [["0.51", "120"], [0.50, 80]]
type pairSide [][]Numeric

// objectSide: [{"price": "0.51", "size": "120"}]
type objectSide []struct {
	Price Numeric `json:"price"`
	Size  Numeric `json:"size"`
}

// mapSide: {"0.51": "120", "0.50": 80}
type mapSide map[string]Numeric

func (s pairSide) quotes() []Quote {
	out := make([]Quote, 0, len(s))
	for _, pair := range s {
		if len(pair) < 2 {
			continue
		}
		if q, ok := quoteOf(pair[0], pair[1]); ok {
			out = append(out, q)
		}
	}
	return out
}

func (s objectSide) quotes() []Quote {
	out := make([]Quote, 0, len(s))
	for _, lvl := range s {
		if q, ok := quoteOf(lvl.Price, lvl.Size); ok {
			out = append(out, q)
		}
	}
	return out
}

func (s mapSide) quotes() []Quote {
	out := make([]Quote, 0, len(s))
	for price, size := range s {
		if q, ok := quoteOf(StringValue(price), size); ok {
			out = append(out, q)
		}
	}
	return out
}

// quoteOf drops any entry whose price or size is missing or non-finite.
func quoteOf(price, size Value) (Quote, bool) {
	p, ok := price.Float()
	if !ok {
		return Quote{}, false
	}
	s, ok := size.Float()
	if !ok {
		return Quote{}, false
	}
	return Quote{Price: p, Size: s}, true
}

func decodeSide(b []byte) (sideShape, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return pairSide(nil), nil
	}

	switch b[0] {
	case '{':
		var m mapSide
		err := json.Unmarshal(b, &m)
		return m, err
	case '[':
		inner := bytes.TrimSpace(b[1:])
		if len(inner) > 0 && inner[0] == '{' {
			var o objectSide
			err := json.Unmarshal(b, &o)
			return o, err
		}
		var p pairSide
		err := json.Unmarshal(b, &p)
		return p, err
	}
	return nil, fmt.Errorf("%w: book side starting with %q", ErrUnrecognizedShape, b[0])
}

// side accepts any supported representation of one book side.
type side []Quote

func (s *side) UnmarshalJSON(b []byte) error {
	shape, err := decodeSide(b)
	if err != nil {
		return err
	}
	*s = shape.quotes()
	return nil
}

type bookPayload struct {
	Bids side `json:"bids"`
	Asks side `json:"asks"`
}

// ParseBook normalizes an upstream book payload. Ranking and truncation are
// left to the caller.
func ParseBook(raw []byte) (RawBook, error) {
	var payload bookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return RawBook{}, fmt.Errorf("parse book: %w", err)
	}
	return RawBook{Bids: payload.Bids, Asks: payload.Asks}, nil
}

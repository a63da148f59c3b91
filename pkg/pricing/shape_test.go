package pricing_test

import (
	"errors"
	"sort"
	"testing"

	"github.com/shubham-shewale/market-feed/pkg/pricing"
)

func TestValueVariants(t *testing.T) {
	cases := []struct {
		name string
		val  pricing.Value
		want float64
		ok   bool
	}{
		{"string", pricing.StringValue("0.55"), 0.55, true},
		{"padded string", pricing.StringValue(" 12 "), 12, true},
		{"exponent string", pricing.StringValue("1e-3"), 0.001, true},
		{"garbage string", pricing.StringValue("abc"), 0, false},
		{"nan string", pricing.StringValue("NaN"), 0, false},
		{"number", pricing.NumberValue(0.42), 0.42, true},
		{"null", pricing.NullValue{}, 0, false},
	}

	for _, tc := range cases {
		got, ok := tc.val.Float()
		if ok != tc.ok || (ok && got != tc.want) {
			t.Errorf("%s: got (%v, %v), want (%v, %v)", tc.name, got, ok, tc.want, tc.ok)
		}
	}
}

func TestParseBook_SideShapes(t *testing.T) {
	payloads := map[string]string{
		"pairs":   `{"bids":[["0.49","100"],[0.48,50]],"asks":[["0.51","70"],["0.52",30]]}`,
		"objects": `{"bids":[{"price":"0.49","size":"100"},{"price":0.48,"size":50}],"asks":[{"price":"0.51","size":70},{"price":"0.52","size":"30"}]}`,
		"maps":    `{"bids":{"0.49":"100","0.48":50},"asks":{"0.51":70,"0.52":"30"}}`,
	}

	for name, raw := range payloads {
		book, err := pricing.ParseBook([]byte(raw))
		if err != nil {
			t.Fatalf("%s: ParseBook failed: %v", name, err)
		}
		if len(book.Bids) != 2 || len(book.Asks) != 2 {
			t.Fatalf("%s: expected 2 bids and 2 asks, got %d/%d", name, len(book.Bids), len(book.Asks))
		}

		sort.Slice(book.Bids, func(i, j int) bool { return book.Bids[i].Price > book.Bids[j].Price })
		if book.Bids[0].Price != 0.49 || book.Bids[0].Size != 100 {
			t.Errorf("%s: unexpected best bid %+v", name, book.Bids[0])
		}
	}
}

func TestParseBook_DropsUnusableEntries(t *testing.T) {
	raw := `{"bids":[["0.49","100"],["NaN","5"],["0.40"],[null,"1"]],"asks":null}`

	book, err := pricing.ParseBook([]byte(raw))
	if err != nil {
		t.Fatalf("ParseBook failed: %v", err)
	}
	if len(book.Bids) != 1 {
		t.Errorf("Expected only the finite pair to survive, got %+v", book.Bids)
	}
	if len(book.Asks) != 0 {
		t.Errorf("Expected no asks, got %+v", book.Asks)
	}
}

func TestParseBook_RejectsScalarSide(t *testing.T) {
	if _, err := pricing.ParseBook([]byte(`{"bids":"oops","asks":[]}`)); err == nil {
		t.Error("Expected error for scalar book side")
	}
}

func TestParseHistory_Shapes(t *testing.T) {
	payloads := map[string]string{
		"flat":       `[{"t":1700000000,"p":0.40},{"t":1700000060,"p":"0.45"}]`,
		"nested":     `{"history":[{"t":1700000060,"p":0.45},{"t":1700000000,"p":0.40}]}`,
		"map":        `{"1700000000":0.40,"1700000060":"0.45"}`,
		"long names": `[{"timestamp":1700000000000,"price":0.40},{"timestamp":1700000060000,"price":0.45}]`,
	}

	for name, raw := range payloads {
		points, err := pricing.ParseHistory([]byte(raw))
		if err != nil {
			t.Fatalf("%s: ParseHistory failed: %v", name, err)
		}
		if len(points) != 2 {
			t.Fatalf("%s: expected 2 points, got %d", name, len(points))
		}
		if !points[0].Time.Before(points[1].Time) {
			t.Errorf("%s: points not chronological", name)
		}
		if points[1].Price != 0.45 {
			t.Errorf("%s: expected latest price 0.45, got %v", name, points[1].Price)
		}
		if points[0].Time.Unix() != 1700000000 {
			t.Errorf("%s: unexpected first timestamp %v", name, points[0].Time)
		}
	}
}

func TestParseHistory_UnknownShape(t *testing.T) {
	for _, raw := range []string{`"nope"`, `[1,2,3]`, `{"foo":"bar"}`} {
		_, err := pricing.ParseHistory([]byte(raw))
		if !errors.Is(err, pricing.ErrUnrecognizedShape) {
			t.Errorf("%s: expected ErrUnrecognizedShape, got %v", raw, err)
		}
	}
}

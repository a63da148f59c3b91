package orderbook_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/market-feed/cmd/gateway/internal/orderbook"
	"github.com/shubham-shewale/market-feed/pkg/pricing"
)

func liveFetcher(t *testing.T, status int, body string) *orderbook.LiveFetcher {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/book" || r.URL.Query().Get("token_id") != "tok-1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	client := pricing.NewClient(pricing.Options{BaseURL: srv.URL, Timeout: time.Second}, zap.NewNop())
	return orderbook.NewLiveFetcher(client, zap.NewNop())
}

func TestLiveFetch_NormalizesPairs(t *testing.T) {
	body := `{
		"bids": [["0.40","10"],["0.45","5"],["0.30","1"],["0.44","2"],["0.43","3"],["0.42","4"],["bad","1"]],
		"asks": [["0.55","7"],["0.50","3"]]
	}`
	st, ok := liveFetcher(t, http.StatusOK, body).Fetch(context.Background(), "tok-1")
	if !ok {
		t.Fatal("Expected a usable live book")
	}

	if len(st.Levels) != 7 {
		t.Fatalf("Expected 2 asks + 5 bids, got %d levels", len(st.Levels))
	}
	if st.MidPrice != (0.45+0.50)/2 {
		t.Errorf("Expected mid from best bid/ask, got %v", st.MidPrice)
	}

	// display order: asks high to low, then bids high to low
	wantPrices := []float64{0.55, 0.50, 0.45, 0.44, 0.43, 0.42, 0.40}
	wantCum := []float64{10, 3, 5, 7, 10, 14, 24}
	for i, l := range st.Levels {
		if l.Price != wantPrices[i] {
			t.Errorf("Level %d price %v, want %v", i, l.Price, wantPrices[i])
		}
		if l.Cumulative != wantCum[i] {
			t.Errorf("Level %d cumulative %v, want %v", i, l.Cumulative, wantCum[i])
		}
	}
}

func TestLiveFetch_MapSidesOneSided(t *testing.T) {
	body := `{"bids": {"0.61": 12, "0.60": "8"}, "asks": {}}`
	st, ok := liveFetcher(t, http.StatusOK, body).Fetch(context.Background(), "tok-1")
	if !ok {
		t.Fatal("Expected a usable one-sided book")
	}
	if st.MidPrice != 0.61 {
		t.Errorf("One-sided book should take mid from the best bid, got %v", st.MidPrice)
	}
	for _, l := range st.Levels {
		if l.Side != orderbook.Bid {
			t.Errorf("Unexpected ask level %+v", l)
		}
	}
}

func TestLiveFetch_FailuresFallBack(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
	}{
		"server error": {http.StatusInternalServerError, ``},
		"empty book":   {http.StatusOK, `{"bids": [], "asks": []}`},
		"garbage":      {http.StatusOK, `<html>nope</html>`},
		"scalar sides": {http.StatusOK, `{"bids": 3, "asks": "x"}`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, ok := liveFetcher(t, tc.status, tc.body).Fetch(context.Background(), "tok-1"); ok {
				t.Error("Expected fallback signal")
			}
		})
	}
}

func TestNormalize_OutOfRangeMidFallsBack(t *testing.T) {
	cases := map[string]pricing.RawBook{
		"near certainty": {
			Bids: []pricing.Quote{{Price: 0.995, Size: 4}, {Price: 0.994, Size: 2}},
			Asks: []pricing.Quote{{Price: 0.997, Size: 1}},
		},
		"ask above one": {Asks: []pricing.Quote{{Price: 3, Size: 1}}},
		"dust bid":      {Bids: []pricing.Quote{{Price: 0.00005, Size: 9}}},
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, ok := orderbook.Normalize(raw); ok {
				t.Error("Expected fallback for a mid outside the display range")
			}
		})
	}
}

func TestNormalize_QuotesStraddleMid(t *testing.T) {
	st, ok := orderbook.Normalize(pricing.RawBook{
		Bids: []pricing.Quote{{Price: 0.985, Size: 4}, {Price: 0.98, Size: 2}},
		Asks: []pricing.Quote{{Price: 0.989, Size: 1}, {Price: 0.99, Size: 3}},
	})
	if !ok {
		t.Fatal("Expected usable book")
	}
	if st.MidPrice != (0.985+0.989)/2 {
		t.Errorf("Expected plain average mid, got %v", st.MidPrice)
	}
	for _, l := range st.Levels {
		if l.Side == orderbook.Bid && l.Price > st.MidPrice {
			t.Errorf("Bid %v above mid %v", l.Price, st.MidPrice)
		}
		if l.Side == orderbook.Ask && l.Price < st.MidPrice {
			t.Errorf("Ask %v below mid %v", l.Price, st.MidPrice)
		}
	}
}

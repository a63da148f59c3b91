package pricing_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/market-feed/pkg/pricing"
)

func newClient(url string, retries int, timeout time.Duration) *pricing.Client {
	return pricing.NewClient(pricing.Options{
		BaseURL:    url,
		Timeout:    timeout,
		MaxRetries: retries,
	}, zap.NewNop())
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"price":"0.42"}`))
	}))
	defer srv.Close()

	price, err := newClient(srv.URL, 2, time.Second).Price(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if price != 0.42 {
		t.Errorf("Expected 0.42, got %v", price)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls.Load())
	}
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL, 3, time.Second).Book(context.Background(), "tok")

	var serr *pricing.StatusError
	if !errors.As(err, &serr) || serr.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 StatusError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("4xx must not be retried, got %d attempts", calls.Load())
	}
}

func TestClient_TimeoutIsBounded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	start := time.Now()
	_, err := newClient(srv.URL, 0, 30*time.Millisecond).Price(context.Background(), "tok")
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("Timeout not enforced, took %v", time.Since(start))
	}
}

func TestClient_RetryFitsWithinBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(300 * time.Millisecond):
			}
			return
		}
		w.Write([]byte(`{"bids":[["0.40","1"]],"asks":[["0.60","1"]]}`))
	}))
	defer srv.Close()

	opts := pricing.Options{BaseURL: srv.URL, Timeout: 100 * time.Millisecond, MaxRetries: 2}
	if want := 300*time.Millisecond + 3*time.Second; opts.Budget() != want {
		t.Errorf("Expected budget %v, got %v", want, opts.Budget())
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.Budget())
	defer cancel()

	book, err := pricing.NewClient(opts, zap.NewNop()).Book(ctx, "tok")
	if err != nil {
		t.Fatalf("Expected the retry to succeed inside the budget, got %v after %d calls", err, calls.Load())
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 attempts, got %d", calls.Load())
	}
	if len(book.Bids) != 1 || len(book.Asks) != 1 {
		t.Errorf("Unexpected book %+v", book)
	}
}

func TestClient_LatestPriceFallsBackToHistory(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/price", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"price":"0"}`))
	})
	mux.HandleFunc("/prices-history", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("market") != "tok" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"1700000000":"0.30","1700000060":"0.35"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	price, err := newClient(srv.URL, 0, time.Second).LatestPrice(context.Background(), "tok")
	if err != nil {
		t.Fatalf("LatestPrice failed: %v", err)
	}
	if price != 0.35 {
		t.Errorf("Expected newest history price 0.35, got %v", price)
	}
}

func TestClient_LatestPriceNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"history":[]}`))
	}))
	defer srv.Close()

	_, err := newClient(srv.URL, 0, time.Second).LatestPrice(context.Background(), "tok")
	if !errors.Is(err, pricing.ErrNoPrice) {
		t.Errorf("Expected ErrNoPrice, got %v", err)
	}
}

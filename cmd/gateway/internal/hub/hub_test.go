package hub_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/shubham-shewale/market-feed/cmd/gateway/internal/hub"
	"github.com/shubham-shewale/market-feed/cmd/gateway/internal/orderbook"
	"github.com/shubham-shewale/market-feed/cmd/gateway/internal/protocol"
	"github.com/shubham-shewale/market-feed/cmd/gateway/internal/simulator"
	"github.com/shubham-shewale/market-feed/cmd/gateway/internal/testutils"
)

const (
	historyEvery = 20 * time.Millisecond
	bookEvery    = 30 * time.Millisecond
	waitFor      = 2 * time.Second
)

type fixture struct {
	reg     *hub.Registry
	store   *testutils.MockSnapshotStore
	metrics *hub.Metrics
}

func setup(t *testing.T, live hub.BookSource, opts hub.Options) fixture {
	t.Helper()
	if opts.HistoryInterval == 0 {
		opts.HistoryInterval = historyEvery
	}
	if opts.BookInterval == 0 {
		opts.BookInterval = bookEvery
	}
	rnd := simulator.NewLockedRand(42)
	sim := simulator.NewSimulator(rnd, simulator.RealClock{})
	synth := orderbook.NewSynthesizer(rnd, false)
	store := testutils.NewMockStore()
	metrics := hub.NewMetrics(prometheus.NewRegistry())

	reg := hub.NewRegistry(sim, synth, live, store, zap.NewNop(), metrics, opts)
	t.Cleanup(reg.Close)
	return fixture{reg: reg, store: store, metrics: metrics}
}

func TestRegistry_HistoryFirstThenTicks(t *testing.T) {
	f := setup(t, nil, hub.Options{})
	sub := testutils.NewMockSubscriber("c1")

	unsub, err := f.reg.SubscribeHistory("btc-100k", sub)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer unsub()

	var first protocol.HistoryMessage
	sub.Frame(t, 0, &first)
	if first.Type != protocol.TypeHistory {
		t.Fatalf("Expected history first, got %s", first.Type)
	}
	if len(first.History) != simulator.HistoryCap {
		t.Errorf("Expected %d points, got %d", simulator.HistoryCap, len(first.History))
	}

	if !sub.WaitFor(3, waitFor) {
		t.Fatal("No ticks received")
	}
	for i := 1; i < 3; i++ {
		var tick protocol.TickMessage
		sub.Frame(t, i, &tick)
		if tick.Type != protocol.TypeTick {
			t.Errorf("Frame %d: expected tick, got %s", i, tick.Type)
		}
		if tick.Point.Probability < 5 || tick.Point.Probability > 95 {
			t.Errorf("Frame %d probability %d out of range", i, tick.Point.Probability)
		}
	}

	if _, ok := f.store.Get(protocol.ChannelHistory, "btc-100k"); !ok {
		t.Error("Ticks should be mirrored to the snapshot store")
	}
}

func TestRegistry_BackfillIsStableAcrossRegistries(t *testing.T) {
	clock := &testutils.MockClock{CurrentTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	build := func() *hub.Registry {
		rnd := simulator.NewLockedRand(1)
		reg := hub.NewRegistry(simulator.NewSimulator(rnd, clock), orderbook.NewSynthesizer(rnd, false), nil,
			nil, zap.NewNop(), hub.NewMetrics(prometheus.NewRegistry()),
			hub.Options{HistoryInterval: time.Hour, BookInterval: time.Hour})
		t.Cleanup(reg.Close)
		return reg
	}

	a, b := testutils.NewMockSubscriber("a"), testutils.NewMockSubscriber("b")
	build().SubscribeHistory("btc-100k", a)
	build().SubscribeHistory("btc-100k", b)

	if a.RawBytes[0] != b.RawBytes[0] {
		t.Error("History frames for the same id should be byte-identical")
	}
}

func TestRegistry_OneTickerPerEntity(t *testing.T) {
	f := setup(t, nil, hub.Options{})
	s1, s2 := testutils.NewMockSubscriber("c1"), testutils.NewMockSubscriber("c2")

	u1, _ := f.reg.SubscribeHistory("btc-100k", s1)
	u2, _ := f.reg.SubscribeHistory("btc-100k", s2)
	defer u1()
	defer u2()

	if n := f.reg.ActiveTickers(); n != 1 {
		t.Errorf("Expected one shared ticker, got %d", n)
	}
	if h, _ := f.reg.Subscribers("btc-100k"); h != 2 {
		t.Errorf("Expected 2 subscribers, got %d", h)
	}

	if !s1.WaitFor(2, waitFor) || !s2.WaitFor(2, waitFor) {
		t.Fatal("Ticks not delivered to both subscribers")
	}
	// both see the same buffer, so the same tick frame
	s1.Mu.Lock()
	s2.Mu.Lock()
	same := s1.RawBytes[1] == s2.RawBytes[1]
	s2.Mu.Unlock()
	s1.Mu.Unlock()
	if !same {
		t.Error("Subscribers of one entity should receive identical ticks")
	}
}

func TestRegistry_UnsubscribeIsIdempotent(t *testing.T) {
	f := setup(t, nil, hub.Options{})
	keep := testutils.NewMockSubscriber("keep")
	leave := testutils.NewMockSubscriber("leave")

	uKeep, _ := f.reg.SubscribeHistory("btc-100k", keep)
	uLeave, _ := f.reg.SubscribeHistory("btc-100k", leave)

	for i := 0; i < 3; i++ {
		uLeave()
	}
	if h, _ := f.reg.Subscribers("btc-100k"); h != 1 {
		t.Errorf("Repeated unsubscribe must remove exactly one subscriber, got %d left", h)
	}
	if n := f.reg.ActiveTickers(); n != 1 {
		t.Errorf("Remaining subscriber should keep the ticker, got %d", n)
	}

	uKeep()
	uKeep()
	if n := f.reg.ActiveTickers(); n != 0 {
		t.Errorf("Expected zero active tickers, got %d", n)
	}
	if v := testutil.ToFloat64(f.metrics.Tickers.WithLabelValues(protocol.ChannelHistory)); v != 0 {
		t.Errorf("Ticker gauge should be 0, got %v", v)
	}
	if v := testutil.ToFloat64(f.metrics.Subscribers.WithLabelValues(protocol.ChannelHistory)); v != 0 {
		t.Errorf("Subscriber gauge should be 0, got %v", v)
	}

	settled := keep.Count()
	time.Sleep(5 * historyEvery)
	if keep.Count() != settled {
		t.Error("Frames arrived after unsubscribe")
	}
}

func TestRegistry_BookSnapshotThenBoundedUpdate(t *testing.T) {
	f := setup(t, nil, hub.Options{})
	sub := testutils.NewMockSubscriber("c1")

	unsub, err := f.reg.SubscribeBook("btc-100k", hub.BookParams{Mid: 0.5}, sub)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer unsub()

	var snap protocol.BookMessage
	sub.Frame(t, 0, &snap)
	if snap.Type != protocol.TypeSnapshot || snap.MidPrice != 0.5 {
		t.Fatalf("Unexpected snapshot %s mid=%v", snap.Type, snap.MidPrice)
	}
	asks, bids := 0, 0
	for _, l := range snap.Levels {
		switch l.Type {
		case "ask":
			asks++
			if l.Price <= 0.5 {
				t.Errorf("Ask %v not above mid", l.Price)
			}
		case "bid":
			bids++
			if l.Price >= 0.5 {
				t.Errorf("Bid %v not below mid", l.Price)
			}
		}
	}
	if asks != 5 || bids != 5 {
		t.Errorf("Expected 5+5 levels, got %d+%d", asks, bids)
	}

	if !sub.WaitFor(2, waitFor) {
		t.Fatal("No update received")
	}
	var upd protocol.BookMessage
	sub.Frame(t, 1, &upd)
	if upd.Type != protocol.TypeUpdate {
		t.Errorf("Expected update, got %s", upd.Type)
	}
	if math.Abs(upd.MidPrice-0.5) > orderbook.TickSize(0.5) {
		t.Errorf("Mid moved %v, more than one tick", upd.MidPrice-0.5)
	}
}

func TestRegistry_LiveBookBypassesLocalState(t *testing.T) {
	live := &testutils.MockBookSource{Book: &orderbook.State{
		MidPrice: 0.73,
		Levels: []orderbook.Level{
			{Price: 0.74, Size: 10, Cumulative: 10, Side: orderbook.Ask},
			{Price: 0.72, Size: 5, Cumulative: 5, Side: orderbook.Bid},
		},
	}}
	f := setup(t, live, hub.Options{})
	sub := testutils.NewMockSubscriber("c1")

	unsub, _ := f.reg.SubscribeBook("btc-100k", hub.BookParams{Mid: 0.5, Token: "tok-1"}, sub)
	defer unsub()

	if !sub.WaitFor(2, waitFor) {
		t.Fatal("No update received")
	}
	var upd protocol.BookMessage
	sub.Frame(t, 1, &upd)
	if upd.MidPrice != 0.73 || len(upd.Levels) != 2 {
		t.Errorf("Expected the live book, got mid=%v levels=%d", upd.MidPrice, len(upd.Levels))
	}

	late := testutils.NewMockSubscriber("late")
	u2, _ := f.reg.SubscribeBook("btc-100k", hub.BookParams{Mid: 0.9}, late)
	defer u2()
	var snap protocol.BookMessage
	late.Frame(t, 0, &snap)
	if snap.MidPrice != 0.5 {
		t.Errorf("Live ticks must not advance local state, snapshot mid=%v", snap.MidPrice)
	}
	live.Mu.Lock()
	defer live.Mu.Unlock()
	if live.Tokens[0] != "tok-1" {
		t.Errorf("Fetched with wrong token %q", live.Tokens[0])
	}
}

func TestRegistry_LiveFailureFallsBack(t *testing.T) {
	live := &testutils.MockBookSource{}
	f := setup(t, live, hub.Options{})
	sub := testutils.NewMockSubscriber("c1")

	unsub, _ := f.reg.SubscribeBook("eth-5k", hub.BookParams{Token: "tok-x"}, sub)
	defer unsub()

	if !sub.WaitFor(2, waitFor) {
		t.Fatal("Fallback update not delivered")
	}
	var upd protocol.BookMessage
	sub.Frame(t, 1, &upd)
	if upd.Type != protocol.TypeUpdate || len(upd.Levels) != 10 {
		t.Errorf("Expected a synthetic 10-level update, got %s with %d levels", upd.Type, len(upd.Levels))
	}
	if testutil.ToFloat64(f.metrics.LiveFallbacks) < 1 {
		t.Error("Fallback should be counted")
	}
}

func TestRegistry_NoLiveFetchWithoutToken(t *testing.T) {
	live := &testutils.MockBookSource{}
	f := setup(t, live, hub.Options{})
	sub := testutils.NewMockSubscriber("c1")

	unsub, _ := f.reg.SubscribeBook("btc-100k", hub.BookParams{}, sub)
	defer unsub()

	sub.WaitFor(3, waitFor)
	if live.Calls() != 0 {
		t.Errorf("Live source called %d times without a token", live.Calls())
	}
}

func TestRegistry_EvictIdle(t *testing.T) {
	f := setup(t, nil, hub.Options{IdleTTL: time.Minute})
	sub := testutils.NewMockSubscriber("c1")

	unsub, _ := f.reg.SubscribeHistory("btc-100k", sub)
	uBook, _ := f.reg.SubscribeBook("btc-100k", hub.BookParams{}, sub)

	if n := f.reg.EvictIdle(time.Now().Add(time.Hour)); n != 0 {
		t.Errorf("Entities with subscribers must not be evicted, evicted %d", n)
	}

	unsub()
	uBook()
	if n := f.reg.EvictIdle(time.Now()); n != 0 {
		t.Errorf("Freshly idle entities should survive, evicted %d", n)
	}
	if n := f.reg.EvictIdle(time.Now().Add(2 * time.Minute)); n != 2 {
		t.Errorf("Expected feed and book evicted, got %d", n)
	}
	if feeds, books := f.reg.Entities(); feeds != 0 || books != 0 {
		t.Errorf("Registry still holds %d feeds, %d books", feeds, books)
	}
}

func TestRegistry_Close(t *testing.T) {
	f := setup(t, nil, hub.Options{})
	sub := testutils.NewMockSubscriber("c1")

	unsub, _ := f.reg.SubscribeHistory("btc-100k", sub)
	f.reg.SubscribeBook("btc-100k", hub.BookParams{}, sub)

	f.reg.Close()
	f.reg.Close()

	if n := f.reg.ActiveTickers(); n != 0 {
		t.Errorf("Close should stop all tickers, %d running", n)
	}
	unsub()

	if _, err := f.reg.SubscribeHistory("btc-100k", sub); !errors.Is(err, hub.ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

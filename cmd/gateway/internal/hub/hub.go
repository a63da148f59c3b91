package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/market-feed/cmd/gateway/internal/orderbook"
	"github.com/shubham-shewale/market-feed/cmd/gateway/internal/protocol"
	"github.com/shubham-shewale/market-feed/cmd/gateway/internal/repository"
	"github.com/shubham-shewale/market-feed/cmd/gateway/internal/simulator"
)

var ErrClosed = errors.New("hub: registry closed")

const mirrorTimeout = time.Second

// Subscriber receives pre-encoded frames. SendBytes must not block; it is
// called with the registry lock held.
type Subscriber interface {
	ID() string
	SendBytes(b []byte)
}

// BookSource fetches a live book. ok=false means use the synthetic book.
type BookSource interface {
	Fetch(ctx context.Context, tokenID string) (orderbook.State, bool)
}

type Options struct {
	HistoryInterval time.Duration
	BookInterval    time.Duration
	IdleTTL         time.Duration // 0 keeps idle entities forever
	LiveTimeout     time.Duration // defaults to BookInterval
}

// BookParams only apply when the entity's book is created, except Token,
// which is adopted by a book that has none yet.
type BookParams struct {
	Mid   float64
	Token string
}

// subscribers is the fan-out set and ticker handle shared by both channel
// kinds.
type subscribers struct {
	set       map[Subscriber]bool
	stop      context.CancelFunc // nil when no ticker runs
	idleSince time.Time
}

type feedEntry struct {
	subscribers
	state *simulator.FeedState
}

type bookEntry struct {
	subscribers
	state *orderbook.State
	token string
}

// Registry owns every entity's state. Each (entity, channel) runs at most
// one ticker, started by its first subscriber and stopped by its last, which
// is the only writer of that state.
type Registry struct {
	feeds map[string]*feedEntry
	books map[string]*bookEntry

	sim     *simulator.Simulator
	synth   *orderbook.Synthesizer
	live    BookSource
	store   repository.SnapshotStore
	logger  *zap.Logger
	metrics *Metrics
	opts    Options

	mu        sync.Mutex
	closed    bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewRegistry wires the registry. live may be nil, in which case books are
// always synthetic.
func NewRegistry(sim *simulator.Simulator, synth *orderbook.Synthesizer, live BookSource,
	store repository.SnapshotStore, logger *zap.Logger, metrics *Metrics, opts Options) *Registry {
	if opts.LiveTimeout <= 0 {
		opts.LiveTimeout = opts.BookInterval
	}
	if store == nil {
		store = repository.NoopStore{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		feeds:   make(map[string]*feedEntry),
		books:   make(map[string]*bookEntry),
		sim:     sim,
		synth:   synth,
		live:    live,
		store:   store,
		logger:  logger,
		metrics: metrics,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start runs the idle-eviction janitor until ctx ends or Close is called.
func (r *Registry) Start(ctx context.Context) {
	if r.opts.IdleTTL <= 0 {
		return
	}
	interval := r.opts.IdleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.ctx.Done():
				return
			case now := <-ticker.C:
				if n := r.EvictIdle(now); n > 0 {
					r.logger.Info("Evicted idle entities", zap.Int("count", n))
				}
			}
		}
	}()
}

// Close stops every ticker and the janitor and waits for them to exit.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		for _, f := range r.feeds {
			r.stopLocked(&f.subscribers, protocol.ChannelHistory)
		}
		for _, b := range r.books {
			r.stopLocked(&b.subscribers, protocol.ChannelOrderbook)
		}
		r.mu.Unlock()

		r.cancel()
		r.wg.Wait()
	})
}

// SubscribeHistory sends sub the full history buffer, then a tick per
// interval until the returned function is called. That function is safe to
// call any number of times.
func (r *Registry) SubscribeHistory(id string, sub Subscriber) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}

	f, ok := r.feeds[id]
	if !ok {
		f = &feedEntry{
			subscribers: subscribers{set: make(map[Subscriber]bool)},
			state:       r.sim.Backfill(id),
		}
		r.feeds[id] = f
		r.logger.Debug("Feed created", zap.String("id", id))
	}

	frame, err := protocol.Encode(historyMessage(f.state))
	if err != nil {
		return nil, err
	}
	sub.SendBytes(frame)

	r.addLocked(&f.subscribers, sub, protocol.ChannelHistory, r.opts.HistoryInterval, func(ctx context.Context) {
		r.tickHistory(ctx, id)
	})

	return r.unsubscriber(func() { r.removeHistory(id, sub) }), nil
}

// SubscribeBook sends sub a snapshot of the entity's book, then an update
// per interval until the returned function is called. The first non-empty
// params.Token binds the entity to that live book for every subscriber.
func (r *Registry) SubscribeBook(id string, params BookParams, sub Subscriber) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}

	b, ok := r.books[id]
	if !ok {
		b = &bookEntry{
			subscribers: subscribers{set: make(map[Subscriber]bool)},
			state:       r.synth.NewState(params.Mid),
		}
		r.books[id] = b
		r.logger.Debug("Book created", zap.String("id", id), zap.Float64("mid", b.state.MidPrice))
	}
	if b.token == "" && params.Token != "" {
		b.token = params.Token
	}

	frame, err := protocol.Encode(bookMessage(protocol.TypeSnapshot, *b.state))
	if err != nil {
		return nil, err
	}
	sub.SendBytes(frame)

	r.addLocked(&b.subscribers, sub, protocol.ChannelOrderbook, r.opts.BookInterval, func(ctx context.Context) {
		r.tickBook(ctx, id)
	})

	return r.unsubscriber(func() { r.removeBook(id, sub) }), nil
}

// EvictIdle drops entities that have had no subscribers for at least IdleTTL.
func (r *Registry) EvictIdle(now time.Time) int {
	if r.opts.IdleTTL <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, f := range r.feeds {
		if len(f.set) == 0 && now.Sub(f.idleSince) >= r.opts.IdleTTL {
			delete(r.feeds, id)
			evicted++
		}
	}
	for id, b := range r.books {
		if len(b.set) == 0 && now.Sub(b.idleSince) >= r.opts.IdleTTL {
			delete(r.books, id)
			evicted++
		}
	}
	return evicted
}

// ActiveTickers counts running tickers across both channel kinds.
func (r *Registry) ActiveTickers() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, f := range r.feeds {
		if f.stop != nil {
			n++
		}
	}
	for _, b := range r.books {
		if b.stop != nil {
			n++
		}
	}
	return n
}

// Subscribers reports subscriber counts for an entity on each channel.
func (r *Registry) Subscribers(id string) (history, book int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.feeds[id]; ok {
		history = len(f.set)
	}
	if b, ok := r.books[id]; ok {
		book = len(b.set)
	}
	return history, book
}

// Entities reports how many feeds and books are held.
func (r *Registry) Entities() (feeds, books int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.feeds), len(r.books)
}

func (r *Registry) unsubscriber(remove func()) func() {
	var once sync.Once
	return func() { once.Do(remove) }
}

func (r *Registry) addLocked(s *subscribers, sub Subscriber, channel string, interval time.Duration, tick func(ctx context.Context)) {
	if s.set[sub] {
		return
	}
	s.set[sub] = true
	r.metrics.Subscribers.WithLabelValues(channel).Inc()

	if s.stop != nil {
		return
	}
	ctx, cancel := context.WithCancel(r.ctx)
	s.stop = cancel
	r.metrics.Tickers.WithLabelValues(channel).Inc()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick(ctx)
			}
		}
	}()
}

func (r *Registry) stopLocked(s *subscribers, channel string) {
	if s.stop == nil {
		return
	}
	s.stop()
	s.stop = nil
	s.idleSince = time.Now()
	r.metrics.Tickers.WithLabelValues(channel).Dec()
}

func (r *Registry) removeLocked(s *subscribers, sub Subscriber, channel string) {
	if !s.set[sub] {
		return
	}
	delete(s.set, sub)
	r.metrics.Subscribers.WithLabelValues(channel).Dec()
	if len(s.set) == 0 {
		r.stopLocked(s, channel)
	}
}

func (r *Registry) removeHistory(id string, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.feeds[id]; ok {
		r.removeLocked(&f.subscribers, sub, protocol.ChannelHistory)
	}
}

func (r *Registry) removeBook(id string, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.books[id]; ok {
		r.removeLocked(&b.subscribers, sub, protocol.ChannelOrderbook)
	}
}

func (r *Registry) tickHistory(ctx context.Context, id string) {
	r.mu.Lock()
	f, ok := r.feeds[id]
	if !ok || ctx.Err() != nil {
		r.mu.Unlock()
		return
	}
	pt := r.sim.Step(f.state)
	frame, err := protocol.Encode(protocol.TickMessage{
		Type:  protocol.TypeTick,
		Point: protocol.NewPoint(pt.Date, pt.Probability),
	})
	if err == nil {
		broadcast(f.set, frame)
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Error("Failed to encode tick", zap.String("id", id), zap.Error(err))
		return
	}
	r.metrics.Ticks.WithLabelValues(protocol.ChannelHistory, "simulated").Inc()
	r.mirror(protocol.ChannelHistory, id, frame)
}

// tickBook prefers the live book when the entity has a token. A live book is
// broadcast as-is and never written into local state.
func (r *Registry) tickBook(ctx context.Context, id string) {
	r.mu.Lock()
	b, ok := r.books[id]
	if !ok || ctx.Err() != nil {
		r.mu.Unlock()
		return
	}
	token := b.token
	r.mu.Unlock()

	if token != "" && r.live != nil {
		fctx, cancel := context.WithTimeout(ctx, r.opts.LiveTimeout)
		live, ok := r.live.Fetch(fctx, token)
		cancel()
		if ok {
			r.publishBook(ctx, id, b, live, "live")
			return
		}
		r.metrics.LiveFallbacks.Inc()
		r.logger.Debug("Falling back to synthetic book", zap.String("id", id), zap.String("token", token))
	}

	r.mu.Lock()
	if ctx.Err() != nil {
		r.mu.Unlock()
		return
	}
	r.synth.Advance(b.state)
	st := b.state.Snapshot()
	r.mu.Unlock()

	r.publishBook(ctx, id, b, st, "synthetic")
}

func (r *Registry) publishBook(ctx context.Context, id string, b *bookEntry, st orderbook.State, source string) {
	frame, err := protocol.Encode(bookMessage(protocol.TypeUpdate, st))
	if err != nil {
		r.logger.Error("Failed to encode book update", zap.String("id", id), zap.Error(err))
		return
	}

	r.mu.Lock()
	if ctx.Err() != nil {
		r.mu.Unlock()
		return
	}
	broadcast(b.set, frame)
	r.mu.Unlock()

	r.metrics.Ticks.WithLabelValues(protocol.ChannelOrderbook, source).Inc()
	r.mirror(protocol.ChannelOrderbook, id, frame)
}

func (r *Registry) mirror(channel, id string, frame []byte) {
	ctx, cancel := context.WithTimeout(r.ctx, mirrorTimeout)
	defer cancel()
	if err := r.store.SaveSnapshot(ctx, channel, id, frame); err != nil {
		r.logger.Warn("Snapshot mirror failed", zap.String("channel", channel), zap.String("id", id), zap.Error(err))
	}
}

func broadcast(set map[Subscriber]bool, frame []byte) {
	for sub := range set {
		sub.SendBytes(frame)
	}
}

func historyMessage(st *simulator.FeedState) protocol.HistoryMessage {
	points := make([]protocol.Point, len(st.History))
	for i, pt := range st.History {
		points[i] = protocol.NewPoint(pt.Date, pt.Probability)
	}
	return protocol.HistoryMessage{Type: protocol.TypeHistory, History: points}
}

func bookMessage(kind string, st orderbook.State) protocol.BookMessage {
	levels := make([]protocol.Level, len(st.Levels))
	for i, l := range st.Levels {
		levels[i] = protocol.Level{
			Price:      l.Price,
			Size:       l.Size,
			Cumulative: l.Cumulative,
			Type:       string(l.Side),
		}
	}
	return protocol.BookMessage{Type: kind, MidPrice: st.MidPrice, Levels: levels}
}

// Package enrich backfills missing prices for large entity lists without
// tripping the upstream API's rate limits: fixed-size concurrent batches
// separated by a cooldown.
package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/shubham-shewale/market-feed/pkg/models"
)

const (
	DefaultBatchSize = 10
	DefaultDelay     = 100 * time.Millisecond
	DefaultMaxItems  = 100
)

// FetchFunc returns a fresh price for one item.
type FetchFunc func(ctx context.Context, item models.EnrichmentItem) (float64, error)

// Clock lets tests observe the cooldown without sleeping. NewTimer returns
// the fire channel and a stop func releasing the timer early.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) (<-chan time.Time, func() bool)
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) NewTimer(d time.Duration) (<-chan time.Time, func() bool) {
	t := time.NewTimer(d)
	return t.C, t.Stop
}

// Pipeline holds the batching policy. The zero value uses the defaults.
type Pipeline struct {
	BatchSize int
	Delay     time.Duration
	MaxItems  int // items fetched per invocation; the rest pass through
	Clock     Clock
	Logger    *zap.Logger
}

// Enrich runs items through a pipeline with the given batch size and delay.
func Enrich(ctx context.Context, items []models.EnrichmentItem, fetch FetchFunc, batchSize int, delay time.Duration) []models.EnrichmentItem {
	p := &Pipeline{BatchSize: batchSize, Delay: delay}
	return p.Enrich(ctx, items, fetch)
}

// Enrich returns a copy of items with missing prices filled in where the
// upstream produced a valid one. Items that already hold a valid price are
// never fetched, and a failed fetch never clears a price.
func (p *Pipeline) Enrich(ctx context.Context, items []models.EnrichmentItem, fetch FetchFunc) []models.EnrichmentItem {
	batchSize, delay, maxItems := p.BatchSize, p.Delay, p.MaxItems
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	if delay < 0 {
		delay = 0
	}
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	clock := p.Clock
	if clock == nil {
		clock = RealClock{}
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	out := make([]models.EnrichmentItem, len(items))
	copy(out, items)

	pending := make([]int, 0, len(out))
	for i, item := range out {
		if item.HasValidPrice() {
			continue
		}
		if len(pending) == maxItems {
			break
		}
		pending = append(pending, i)
	}
	if len(pending) == 0 {
		return out
	}

	batches := (len(pending) + batchSize - 1) / batchSize
	logger.Debug("Enrichment started",
		zap.Int("items", len(items)),
		zap.Int("pending", len(pending)),
		zap.Int("batches", batches))

	for b := 0; b < batches; b++ {
		if b > 0 && delay > 0 {
			fired, stop := clock.NewTimer(delay)
			select {
			case <-ctx.Done():
				stop()
				logger.Warn("Enrichment cancelled", zap.Int("completed_batches", b), zap.Error(ctx.Err()))
				return out
			case <-fired:
			}
		}
		if ctx.Err() != nil {
			return out
		}

		end := min((b+1)*batchSize, len(pending))
		p.runBatch(ctx, out, pending[b*batchSize:end], fetch, logger)
	}
	return out
}

// runBatch issues every fetch in the batch concurrently and merges the results.
func (p *Pipeline) runBatch(ctx context.Context, out []models.EnrichmentItem, idx []int, fetch FetchFunc, logger *zap.Logger) {
	prices := make([]float64, len(idx))
	errs := make([]error, len(idx))

	var wg conc.WaitGroup
	for slot, i := range idx {
		slot, item := slot, out[i]
		errs[slot] = fmt.Errorf("fetch for %s did not complete", item.ID)
		wg.Go(func() {
			prices[slot], errs[slot] = fetch(ctx, item)
		})
	}
	if r := wg.WaitAndRecover(); r != nil {
		logger.Error("Price fetch panicked", zap.String("panic", r.String()))
	}

	for slot, i := range idx {
		if errs[slot] != nil {
			logger.Debug("Price fetch failed", zap.String("id", out[i].ID), zap.Error(errs[slot]))
			continue
		}
		out[i] = merge(out[i], prices[slot])
	}
}

// merge only ever upgrades an item to a valid price.
func merge(item models.EnrichmentItem, fetched float64) models.EnrichmentItem {
	if models.ValidPrice(fetched) {
		item.Price = fetched
	}
	return item
}

package enricher

import (
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/market-feed/pkg/enrich"
	"github.com/shubham-shewale/market-feed/pkg/models"
)

// Runner enriches one item list and publishes every priced item.
type Runner struct {
	logger   *zap.Logger
	writer   KafkaWriter
	pipeline *enrich.Pipeline
	fetch    enrich.FetchFunc
	clock    Clock
}

func NewRunner(logger *zap.Logger, writer KafkaWriter, pipeline *enrich.Pipeline, fetch enrich.FetchFunc, clock Clock) *Runner {
	return &Runner{
		logger:   logger,
		writer:   writer,
		pipeline: pipeline,
		fetch:    fetch,
		clock:    clock,
	}
}

// Run returns the merged items. Publishing failures are returned alongside
// the items, which are still valid.
func (r *Runner) Run(ctx context.Context, items []models.EnrichmentItem) ([]models.EnrichmentItem, error) {
	out := r.pipeline.Enrich(ctx, items, r.fetch)

	now := r.clock.Now()
	msgs := make([]kafka.Message, 0, len(out))
	for _, item := range out {
		if !item.HasValidPrice() {
			continue
		}
		payload, err := json.Marshal(models.PriceUpdate{
			EntityID:  item.ID,
			TokenID:   item.TokenID,
			Price:     item.Price,
			Timestamp: now.UnixMicro(),
			SeqID:     now.UnixMicro(),
		})
		if err != nil {
			r.logger.Error("JSON Marshal Error", zap.String("id", item.ID), zap.Error(err))
			continue
		}
		// Key ensures partition ordering per entity
		msgs = append(msgs, kafka.Message{Key: []byte(item.ID), Value: payload})
	}

	r.logger.Info("Enrichment finished",
		zap.Int("items", len(out)),
		zap.Int("priced", len(msgs)))

	if len(msgs) == 0 || r.writer == nil {
		return out, nil
	}
	if err := r.writer.WriteMessages(ctx, msgs...); err != nil {
		return out, fmt.Errorf("publish %d updates: %w", len(msgs), err)
	}
	return out, nil
}

// PriceFetcher adapts an upstream price source to the pipeline, looking up
// each item by its token when it has one.
func PriceFetcher(src PriceSource) enrich.FetchFunc {
	return func(ctx context.Context, item models.EnrichmentItem) (float64, error) {
		return src.LatestPrice(ctx, item.LookupKey())
	}
}

func ReadItems(r io.Reader) ([]models.EnrichmentItem, error) {
	var items []models.EnrichmentItem
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	return items, nil
}

func WriteItems(w io.Writer, items []models.EnrichmentItem) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}

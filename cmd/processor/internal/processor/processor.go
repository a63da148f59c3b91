package processor

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/shubham-shewale/market-feed/pkg/config"
	"github.com/shubham-shewale/market-feed/pkg/models"
)

const workerBuffer = 100

func PriceKey(entityID string) string { return "price:" + entityID }

func PriceChannel(entityID string) string { return "prices." + entityID }

// Processor is the price sink: it consumes enriched prices from Kafka and
// keeps the latest valid price per entity in Redis for the listing and
// search collaborators.
type Processor struct {
	logger     Logger
	rdb        RedisClient
	reader     KafkaReader
	numWorkers int
	ttl        time.Duration
}

func NewProcessor(cfg *config.Config, logger Logger, rdb RedisClient, reader KafkaReader) *Processor {
	numWorkers := cfg.Processor.NumWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Processor{
		logger:     logger,
		rdb:        rdb,
		reader:     reader,
		numWorkers: numWorkers,
		ttl:        cfg.Processor.PriceTTL,
	}
}

// Run blocks until ctx is done, then drains the workers.
func (p *Processor) Run(ctx context.Context) error {
	workerChans := make([]chan []byte, p.numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < p.numWorkers; i++ {
		workerChans[i] = make(chan []byte, workerBuffer)
		wg.Add(1)
		go p.worker(i, workerChans[i], &wg)
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		p.logger.Info("Processor Started", zap.Int("workers", p.numWorkers))
		for {
			m, err := p.reader.ReadMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
					return
				}
				p.logger.Error("Kafka Read Error", zap.Error(err))
				continue
			}

			// Same entity always lands on the same worker, which keeps the
			// per-entity sequence check local
			workerID := getWorkerID(m.Key, p.numWorkers)

			select {
			case workerChans[workerID] <- m.Value:
			case <-ctx.Done():
				return
			default:
				p.logger.Warn("Dropping slow packet", zap.String("key", string(m.Key)), zap.Int("worker_id", workerID))
			}
		}
	}()

	<-ctx.Done()
	p.logger.Info("Shutdown signal received, stopping processor...")

	// workers' channels can only close once nothing sends on them
	<-readerDone
	for _, ch := range workerChans {
		close(ch)
	}
	p.logger.Info("Waiting for workers to drain...")
	wg.Wait()

	return nil
}

func (p *Processor) worker(id int, msgs <-chan []byte, wg *sync.WaitGroup) {
	defer wg.Done()
	ctx := context.Background() // a drain must not be cut off mid-write

	lastSeq := make(map[string]int64)

	for payload := range msgs {
		var update models.PriceUpdate
		if err := json.Unmarshal(payload, &update); err != nil {
			p.logger.Error("JSON Unmarshal Error", zap.Error(err))
			continue
		}
		if update.EntityID == "" {
			p.logger.Warn("Update without entity id")
			continue
		}

		// never store a zero or failed price over a valid one
		if !models.ValidPrice(update.Price) {
			p.logger.Debug("Skipping invalid price", zap.String("id", update.EntityID), zap.Float64("price", update.Price))
			continue
		}
		if update.SeqID <= lastSeq[update.EntityID] {
			p.logger.Debug("Skipping stale update", zap.String("id", update.EntityID), zap.Int64("seq_id", update.SeqID))
			continue
		}

		pipe := p.rdb.Pipeline()
		pipe.Set(ctx, PriceKey(update.EntityID), payload, p.ttl)
		pipe.Publish(ctx, PriceChannel(update.EntityID), payload)

		if _, err := pipe.Exec(ctx); err != nil {
			p.logger.Error("Redis Pipeline Error", zap.Error(err), zap.String("id", update.EntityID))
			continue
		}
		p.logger.Debug("Processed", zap.String("id", update.EntityID), zap.Int("worker_id", id))
		lastSeq[update.EntityID] = update.SeqID
	}
}

func getWorkerID(key []byte, numWorkers int) int {
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32() % uint32(numWorkers))
}

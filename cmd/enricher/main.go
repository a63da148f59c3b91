package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shubham-shewale/market-feed/cmd/enricher/internal/enricher"
	"github.com/shubham-shewale/market-feed/pkg/config"
	"github.com/shubham-shewale/market-feed/pkg/enrich"
	"github.com/shubham-shewale/market-feed/pkg/pricing"
)

var rootCmd = &cobra.Command{
	Use:   "enricher",
	Short: "Batch price enrichment",
	Long: `Enricher backfills missing prices for a list of entities from the upstream
price API in rate-limited batches, prints the merged list and publishes every
priced entity to Kafka for the price sink.`,
	SilenceUsage: true,
}

type runFlags struct {
	input     string
	batchSize int
	delay     time.Duration
	maxItems  int
	publish   bool
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Enrich an item list once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, f)
		},
	}
	cmd.Flags().StringVarP(&f.input, "input", "i", "-", "JSON array of items, - for stdin")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 0, "concurrent fetches per batch (default from config)")
	cmd.Flags().DurationVar(&f.delay, "delay", 0, "pause between batches (default from config)")
	cmd.Flags().IntVar(&f.maxItems, "max-items", 0, "items fetched per run (default from config)")
	cmd.Flags().BoolVar(&f.publish, "publish", true, "publish priced items to Kafka")
	return cmd
}

func run(cmd *cobra.Command, f runFlags) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cmd.Flags().Changed("batch-size") {
		cfg.Enrich.BatchSize = f.batchSize
	}
	if cmd.Flags().Changed("delay") {
		cfg.Enrich.Delay = f.delay
	}
	if cmd.Flags().Changed("max-items") {
		cfg.Enrich.MaxItems = f.maxItems
	}
	if cfg.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}

	var in io.Reader = os.Stdin
	if f.input != "-" {
		file, err := os.Open(f.input)
		if err != nil {
			return err
		}
		defer file.Close()
		in = file
	}
	items, err := enricher.ReadItems(in)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var writer enricher.KafkaWriter
	if f.publish {
		tc := enricher.NewTopicCreator(logger, &enricher.RealKafkaDialer{Dialer: kafka.DefaultDialer}, enricher.RealClock{})
		if err := tc.Ensure(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Partitions); err != nil {
			logger.Warn("Topic bootstrap failed", zap.Error(err))
		}

		w := &kafka.Writer{
			Addr:         kafka.TCP(cfg.Kafka.Brokers...),
			Topic:        cfg.Kafka.Topic,
			Balancer:     &kafka.Hash{}, // same entity, same partition
			BatchSize:    100,
			BatchTimeout: 10 * time.Millisecond,
		}
		defer func() {
			if err := w.Close(); err != nil {
				logger.Error("Error closing Kafka writer", zap.Error(err))
			}
		}()
		writer = w
	}

	client := pricing.NewClient(pricing.Options{
		BaseURL:       cfg.Upstream.BaseURL,
		Timeout:       cfg.Upstream.Timeout,
		MaxRetries:    cfg.Upstream.MaxRetries,
		RatePerSecond: cfg.Upstream.RatePerSecond,
		Burst:         cfg.Upstream.Burst,
	}, logger)

	pipeline := &enrich.Pipeline{
		BatchSize: cfg.Enrich.BatchSize,
		Delay:     cfg.Enrich.Delay,
		MaxItems:  cfg.Enrich.MaxItems,
		Logger:    logger,
	}
	runner := enricher.NewRunner(logger, writer, pipeline, enricher.PriceFetcher(client), enricher.RealClock{})

	out, err := runner.Run(ctx, items)
	if werr := enricher.WriteItems(cmd.OutOrStdout(), out); werr != nil {
		return werr
	}
	return err
}

func main() {
	rootCmd.AddCommand(newRunCmd())
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

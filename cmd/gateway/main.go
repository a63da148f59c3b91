package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shubham-shewale/market-feed/cmd/gateway/internal/gateway"
	"github.com/shubham-shewale/market-feed/cmd/gateway/internal/hub"
	"github.com/shubham-shewale/market-feed/cmd/gateway/internal/orderbook"
	"github.com/shubham-shewale/market-feed/cmd/gateway/internal/repository"
	"github.com/shubham-shewale/market-feed/cmd/gateway/internal/simulator"
	"github.com/shubham-shewale/market-feed/pkg/config"
	"github.com/shubham-shewale/market-feed/pkg/pricing"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	var store repository.SnapshotStore = repository.NoopStore{}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store = repository.NewRedisStore(rdb, cfg.Feed.SnapshotTTL)
		logger.Info("Snapshot mirror enabled", zap.String("addr", cfg.Redis.Addr))
	}
	defer store.Close()

	// A nil interface, not a typed nil, keeps books synthetic
	var live hub.BookSource
	upstream := pricing.Options{
		BaseURL:       cfg.Upstream.BaseURL,
		Timeout:       cfg.Upstream.Timeout,
		MaxRetries:    cfg.Upstream.MaxRetries,
		RatePerSecond: cfg.Upstream.RatePerSecond,
		Burst:         cfg.Upstream.Burst,
	}
	if cfg.Upstream.BaseURL != "" {
		client := pricing.NewClient(upstream, logger)
		live = orderbook.NewLiveFetcher(client, logger)
		logger.Info("Live books enabled", zap.String("upstream", cfg.Upstream.BaseURL))
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	rnd := simulator.NewLockedRand(time.Now().UnixNano())
	registry := hub.NewRegistry(
		simulator.NewSimulator(rnd, simulator.RealClock{}),
		orderbook.NewSynthesizer(rnd, cfg.Feed.ConventionalAskDepth),
		live,
		store,
		logger,
		hub.NewMetrics(promReg),
		hub.Options{
			HistoryInterval: cfg.Feed.HistoryInterval,
			BookInterval:    cfg.Feed.BookInterval,
			IdleTTL:         cfg.Feed.IdleTTL,
			LiveTimeout:     min(upstream.Budget(), cfg.Feed.BookInterval),
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	registry.Start(ctx)

	srv := &http.Server{
		Addr:    cfg.App.Port,
		Handler: gateway.NewServer(registry, logger, cfg.Feed.DefaultID, promReg).Routes(),
	}

	go func() {
		logger.Info("Server Started", zap.String("port", cfg.App.Port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	registry.Close()
	logger.Info("Shutdown Complete")
}

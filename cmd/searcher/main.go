// Command searcher serves fuzzy filename search over the in-memory
// filesystem index.
//
// At startup it loads every volume snapshot found in index.snapshotDir, then
// keeps the index current from the snapshot topic when Kafka is enabled.
//
// Usage:
//
//	go run ./cmd/searcher [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/LuizLemos21/FileExplorer/internal/analytics"
	"github.com/LuizLemos21/FileExplorer/internal/fsindex"
	"github.com/LuizLemos21/FileExplorer/internal/refresh"
	"github.com/LuizLemos21/FileExplorer/internal/searcher/cache"
	"github.com/LuizLemos21/FileExplorer/internal/searcher/evaluator"
	"github.com/LuizLemos21/FileExplorer/internal/searcher/handler"
	"github.com/LuizLemos21/FileExplorer/pkg/config"
	"github.com/LuizLemos21/FileExplorer/pkg/health"
	"github.com/LuizLemos21/FileExplorer/pkg/kafka"
	"github.com/LuizLemos21/FileExplorer/pkg/logger"
	"github.com/LuizLemos21/FileExplorer/pkg/metrics"
	"github.com/LuizLemos21/FileExplorer/pkg/middleware"
	pkgredis "github.com/LuizLemos21/FileExplorer/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"workers", cfg.Search.Workers,
		"snapshot_dir", cfg.Index.SnapshotDir,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)

	state := fsindex.NewState()
	refresher := refresh.New(state, cfg.Index, m)
	if _, err := refresher.LoadAll(cfg.Index.SnapshotDir); err != nil {
		slog.Error("failed to load index", "error", err)
		os.Exit(1)
	}

	var redisClient *pkgredis.Client
	var remote cache.Store
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, using local cache only", "error", err)
		} else {
			defer redisClient.Close()
			remote = redisClient
			slog.Info("redis cache tier enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}
	queryCache := cache.New(remote, cfg.Redis, cfg.Search.LocalCacheSize, m)

	var collector *analytics.Collector
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SearchEvents)
		defer producer.Close()
		collector = analytics.NewCollector(producer, cfg.Analytics.BufferSize, m)
		collector.Start(ctx)
		slog.Info("analytics collector started", "topic", cfg.Kafka.Topics.SearchEvents)

		hostname, _ := os.Hostname()
		group := cfg.Kafka.ConsumerGroup + "-" + hostname
		snapshotConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.SnapshotPublished, group, refresher.HandleMessage())
		defer snapshotConsumer.Close()
		go func() {
			if err := snapshotConsumer.Start(ctx); err != nil {
				slog.Error("snapshot consumer error", "error", err)
			}
		}()
		slog.Info("index refresh consumer started",
			"topic", cfg.Kafka.Topics.SnapshotPublished,
			"group", group,
		)
	}

	checker := health.NewChecker()
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		snap := state.Load()
		ids := snap.Index.VolumeIDs()
		if len(ids) == 0 {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "no volumes indexed"}
		}
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d volumes, generation %d", len(ids), snap.Generation),
		}
	})
	if redisClient != nil {
		checker.Register("redis", health.Ping(redisClient.Ping, true))
	}

	var shutdownMetrics func(context.Context) error
	if cfg.Metrics.Enabled {
		shutdownMetrics = metrics.StartServer(cfg.Metrics.Port, "searcher")
	}

	ev := evaluator.New(state, nil, cfg.Search)
	h := handler.New(state, ev, queryCache, collector, m, cfg.Search)

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.RateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst, m)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if shutdownMetrics != nil {
			if err := shutdownMetrics(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}
	}()

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	<-shutdownDone

	if collector != nil {
		collector.Close()
	}
	slog.Info("search service stopped")
}

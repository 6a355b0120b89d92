// The indexer command consumes document events from Kafka and maintains the
// Redis search index.
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
	"time"

	"github.com/karteio/geosearch/internal/indexer"
	"github.com/karteio/geosearch/internal/indexer/consumer"
	"github.com/karteio/geosearch/internal/store/redisstore"
	"github.com/karteio/geosearch/internal/textpipe"
	"github.com/karteio/geosearch/pkg/config"
	"github.com/karteio/geosearch/pkg/health"
	"github.com/karteio/geosearch/pkg/kafka"
	"github.com/karteio/geosearch/pkg/logger"
	"github.com/karteio/geosearch/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting indexer service", "topic", cfg.Kafka.Topics.Documents)

	var synonyms *textpipe.SynonymTable
	if cfg.Search.SynonymsPath != "" {
		synonyms, err = textpipe.LoadSynonyms(cfg.Search.SynonymsPath)
		if err != nil {
			slog.Error("failed to load synonyms", "path", cfg.Search.SynonymsPath, "error", err)
			os.Exit(1)
		}
	}
	pipeline, err := textpipe.NewFromNames(cfg.Search.PipelineSteps, synonyms)
	if err != nil {
		slog.Error("invalid pipeline configuration", "error", err)
		os.Exit(1)
	}

	st, err := redisstore.New(cfg.Redis)
	if err != nil {
		slog.Error("failed to connect to index store", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}
	defer st.Close()
	slog.Info("index store connected", "addr", cfg.Redis.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	invalidator := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.CacheInvalidate)
	defer invalidator.Close()

	writer := indexer.New(st, pipeline, cfg.Search, cfg.Index)
	docConsumer := consumer.New(cfg.Kafka, writer, invalidator)

	checker := health.NewChecker()
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if err := st.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownMetrics(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	healthServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		slog.Info("health server listening", "addr", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("health server shutdown error", "error", err)
		}
	}()

	if err := docConsumer.Start(ctx); err != nil {
		slog.Error("document consumer error", "error", err)
		os.Exit(1)
	}
	slog.Info("indexer service stopped")
}

// The geosearch command runs the geocoding API: forward and reverse search
// over the Redis index, document ingestion into Kafka, and query analytics.
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

	"github.com/karteio/geosearch/internal/analytics"
	"github.com/karteio/geosearch/internal/auth/apikey"
	"github.com/karteio/geosearch/internal/auth/ratelimit"
	"github.com/karteio/geosearch/internal/ingestion/publisher"
	"github.com/karteio/geosearch/internal/search"
	"github.com/karteio/geosearch/internal/server"
	"github.com/karteio/geosearch/internal/server/cache"
	"github.com/karteio/geosearch/internal/store/redisstore"
	"github.com/karteio/geosearch/internal/textpipe"
	"github.com/karteio/geosearch/pkg/config"
	"github.com/karteio/geosearch/pkg/health"
	"github.com/karteio/geosearch/pkg/kafka"
	"github.com/karteio/geosearch/pkg/logger"
	"github.com/karteio/geosearch/pkg/metrics"
	"github.com/karteio/geosearch/pkg/postgres"
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
	slog.Info("starting geosearch service", "port", cfg.Server.Port)

	var synonyms *textpipe.SynonymTable
	if cfg.Search.SynonymsPath != "" {
		synonyms, err = textpipe.LoadSynonyms(cfg.Search.SynonymsPath)
		if err != nil {
			slog.Error("failed to load synonyms", "path", cfg.Search.SynonymsPath, "error", err)
			os.Exit(1)
		}
		slog.Info("synonyms loaded", "path", cfg.Search.SynonymsPath, "entries", synonyms.Len())
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

	engine := search.New(st, pipeline, cfg.Search, cfg.Index)
	resultCache := cache.New(st.Client(), cfg.Redis)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	docProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Documents)
	defer docProducer.Close()
	pub := publisher.New(docProducer)

	analyticsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Analytics)
	defer analyticsProducer.Close()
	collector := analytics.NewCollector(analyticsProducer, 500, 5*time.Second)
	collector.Start(ctx)
	defer collector.Close()

	aggregator := analytics.NewAggregator()
	analyticsConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.Analytics, analytics.HandleEvent(aggregator))
	go func() {
		if err := aggregator.Start(ctx, analyticsConsumer); err != nil {
			slog.Error("analytics aggregator error", "error", err)
		}
	}()

	invalidateConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.CacheInvalidate,
		func(ctx context.Context, key, value []byte) error {
			return resultCache.Invalidate(ctx)
		})
	go func() {
		if err := invalidateConsumer.Start(ctx); err != nil {
			slog.Error("cache invalidation consumer error", "error", err)
		}
	}()

	var validator *apikey.Validator
	var limiter *ratelimit.Limiter
	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, api auth disabled", "error", err)
	} else {
		defer db.Close()
		validator = apikey.NewValidator(db)
		limiter = ratelimit.New(time.Minute)
		analytics.NewStore(db).StartPeriodicSave(ctx, aggregator, 5*time.Minute)
		slog.Info("api auth enabled", "host", cfg.Postgres.Host)
	}

	checker := health.NewChecker()
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if err := st.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		if db == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := db.DB.PingContext(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
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

	h := server.New(engine, st, resultCache, pub, collector, server.HandlerConfig{
		DefaultLimit:    cfg.Search.DefaultLimit,
		MaxResults:      cfg.Search.MaxResults,
		Autocomplete:    cfg.Search.Autocomplete,
		FuzzyEditBudget: cfg.Search.FuzzyEditBudget,
		FilterFields:    cfg.Search.FilterFields,
	})
	router := server.NewRouter(h, server.NewAdminHandler(validator), server.RouterOptions{
		Validator:      validator,
		Limiter:        limiter,
		Health:         checker,
		Analytics:      analytics.NewHandler(aggregator),
		RequestTimeout: cfg.Server.WriteTimeout,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("geosearch service listening", "addr", httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("geosearch service stopped")
}

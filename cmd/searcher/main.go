package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/reload"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/resilience"
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
	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"table", cfg.Table.Name,
		"workers", cfg.Search.MaxConcurrentQueries,
	)

	if err := run(cfg); err != nil {
		slog.Error("search service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port)
		defer shutdown(context.Background())
	}

	engine, err := indexer.NewEngine(cfg.Indexer)
	if err != nil {
		return fmt.Errorf("opening index: %w", err)
	}
	defer engine.Close()
	slog.Info("index opened", "segments", engine.Segments(), "live_rows", engine.Stats().TotalDocs)

	pg, err := connectPostgres(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pg.Close()
	table, err := store.NewTable(pg.DB, cfg.Table)
	if err != nil {
		return err
	}

	checker := health.NewChecker()
	checker.Register("postgres", health.Ping(pg.Ping, health.StatusDown))
	checker.Register("index", func(context.Context) health.ComponentHealth {
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("%d segments, %d live rows", engine.Segments(), engine.Stats().TotalDocs),
		}
	})

	var (
		queryCache  *cache.QueryCache
		invalidator reload.Invalidator
	)
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
			checker.Register("redis", func(context.Context) health.ComponentHealth {
				return health.ComponentHealth{Status: health.StatusDegraded, Message: "unavailable at startup"}
			})
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Table.Name, cfg.Redis.CacheTTL, m)
			invalidator = queryCache
			checker.Register("redis", health.Ping(redisClient.Ping, health.StatusDegraded))
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	rows := store.Guard(table, resilience.NewCircuitBreaker("postgres", resilience.CircuitBreakerConfig{}))
	pool := executor.NewPool(cfg.Search.MaxConcurrentQueries, engine, rows, m)
	h := handler.New(pool, engine, engine.Analyzer(), queryCache, cfg.Search, m)

	mux := http.NewServeMux()
	h.Register(mux)
	checker.Mount(mux)
	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: middleware.Chain(mux,
			middleware.RequestID,
			middleware.Metrics(m, mux),
			middleware.Timeout(cfg.Server.WriteTimeout),
		),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Every searcher must see every flush, so each joins its own group.
	reloader := reload.New(engine, invalidator, cfg.Table.Name, m)
	group := fmt.Sprintf("%s-searcher-%s", cfg.Kafka.ConsumerGroup, uuid.NewString()[:8])
	indexEvents := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete, group, reloader.HandleMessage())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return indexEvents.Start(gctx)
	})
	if cfg.Indexer.ReloadInterval > 0 {
		g.Go(func() error {
			reloader.Run(gctx, cfg.Indexer.ReloadInterval)
			return nil
		})
	}
	g.Go(func() error {
		slog.Info("search service listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func connectPostgres(ctx context.Context, cfg config.PostgresConfig) (*postgres.Client, error) {
	var pg *postgres.Client
	err := resilience.Retry(ctx, "postgres connect", resilience.RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
	}, func(context.Context) error {
		var err error
		pg, err = postgres.New(cfg)
		return err
	})
	return pg, err
}

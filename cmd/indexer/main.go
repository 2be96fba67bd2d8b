package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/rowid"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	rebuild := flag.Bool("rebuild", false, "re-index every row of the table before consuming changes")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting indexer service", "table", cfg.Table.Name, "data_dir", cfg.Indexer.DataDir)

	if err := run(cfg, *rebuild); err != nil {
		slog.Error("indexer service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("indexer service stopped")
}

func run(cfg *config.Config, rebuild bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port)
		defer shutdown(context.Background())
	}

	// Closed after the engine so the final flush can still be announced.
	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
	defer producer.Close()

	engine, err := indexer.NewEngine(cfg.Indexer)
	if err != nil {
		return fmt.Errorf("opening index: %w", err)
	}
	defer engine.Close()
	engine.OnFlush(func(info indexer.FlushInfo, err error) {
		if err != nil {
			m.IndexFlushesTotal.WithLabelValues("error").Inc()
			return
		}
		m.IndexFlushesTotal.WithLabelValues("success").Inc()
		m.IndexSegments.Set(float64(info.Segments))
		m.IndexLiveRows.Set(float64(info.LiveRows))

		pubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		event := indexer.IndexCompleteEvent{
			Table:     cfg.Table.Name,
			Segment:   info.Segment,
			Segments:  info.Segments,
			LiveRows:  info.LiveRows,
			FlushedAt: time.Now().UTC(),
		}
		if err := producer.Publish(pubCtx, cfg.Table.Name, event); err != nil {
			slog.Error("failed to publish index complete event", "error", err)
		}
	})

	empty := engine.Stats().TotalDocs == 0 && engine.Segments() == 0
	if rebuild || empty {
		if err := rebuildFromTable(ctx, cfg, engine); err != nil {
			return err
		}
	}

	engine.StartFlushLoop(ctx)
	rowConsumer := kafka.NewConsumer(
		cfg.Kafka,
		cfg.Kafka.Topics.RowChanges,
		cfg.Kafka.ConsumerGroup,
		consumer.HandleMessage(engine, m),
	)
	slog.Info("indexer service ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.RowChanges,
		"group", cfg.Kafka.ConsumerGroup,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rowConsumer.Start(gctx)
	})
	return g.Wait()
}

// rebuildFromTable indexes every row currently in the table and flushes.
func rebuildFromTable(ctx context.Context, cfg *config.Config, engine *indexer.Engine) error {
	pg, err := connectPostgres(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pg.Close()
	table, err := store.NewTable(pg.DB, cfg.Table)
	if err != nil {
		return err
	}

	start := time.Now()
	slog.Info("rebuilding index from table", "table", cfg.Table.Name)
	var n int
	seen := roaring64.New()
	err = table.ScanAll(ctx, func(key rowid.RowKey, text string) error {
		n++
		seen.Add(key.Pack())
		return engine.IndexRow(key, text)
	})
	if err != nil {
		return fmt.Errorf("rebuilding index: %w", err)
	}
	// Rows deleted while the indexer was down are no longer in the table.
	removed := engine.Retain(func(key rowid.RowKey) bool {
		return seen.Contains(key.Pack())
	})
	if err := engine.Flush(); err != nil {
		return fmt.Errorf("flushing rebuilt index: %w", err)
	}
	slog.Info("index rebuilt", "rows", n, "removed", removed, "duration", time.Since(start))
	return nil
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

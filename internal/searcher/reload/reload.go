// Package reload keeps a searcher's view of the index current. It picks up
// segments and tombstones the indexer wrote, either when the indexer
// announces a flush or on a fallback timer, and drops cached results that
// may no longer be valid.
package reload

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/metrics"
)

type Index interface {
	ReloadSegments() (int, error)
	Segments() int
	Stats() indexer.Stats
}

type Invalidator interface {
	Invalidate(ctx context.Context) (int64, error)
}

type Reloader struct {
	index   Index
	cache   Invalidator
	table   string
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Reloader for table. cache and m may be nil.
func New(index Index, cache Invalidator, table string, m *metrics.Metrics) *Reloader {
	return &Reloader{
		index:   index,
		cache:   cache,
		table:   table,
		metrics: m,
		logger:  slog.Default().With("component", "index-reloader"),
	}
}

// Reload loads new segments and tombstones. Cached results are dropped when
// force is set or the searchable rows changed.
func (r *Reloader) Reload(ctx context.Context, force bool) error {
	before := r.index.Stats()
	loaded, err := r.index.ReloadSegments()
	if err != nil {
		return fmt.Errorf("reloading segments: %w", err)
	}
	after := r.index.Stats()
	if r.metrics != nil {
		r.metrics.IndexSegments.Set(float64(r.index.Segments()))
		r.metrics.IndexLiveRows.Set(float64(after.TotalDocs))
	}

	changed := loaded > 0 || before != after
	if !force && !changed {
		return nil
	}
	r.logger.Info("index reloaded",
		"segments_loaded", loaded,
		"live_rows", after.TotalDocs,
		"forced", force,
	)
	if r.cache == nil {
		return nil
	}
	if _, err := r.cache.Invalidate(ctx); err != nil {
		return err
	}
	return nil
}

// HandleMessage reloads on index-complete events for this table.
func (r *Reloader) HandleMessage() kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[indexer.IndexCompleteEvent](value)
		if err != nil {
			return err
		}
		if event.Table != r.table {
			return nil
		}
		r.logger.Debug("index complete event",
			"segment", event.Segment,
			"segments", event.Segments,
			"flushed_at", event.FlushedAt,
		)
		return r.Reload(ctx, true)
	}
}

// Run reloads every interval until ctx is done.
func (r *Reloader) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Reload(ctx, false); err != nil {
				r.logger.Error("periodic reload failed", "error", err)
			}
		}
	}
}

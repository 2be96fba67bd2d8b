// Package consumer applies row-change events from Kafka to the index.
package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/rowid"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/metrics"
)

const (
	OpUpsert = "upsert"
	OpDelete = "delete"
)

// RowChange is one event on the row-changes topic.
type RowChange struct {
	Op   string `json:"op"`
	CTID string `json:"ctid"`
	Text string `json:"text,omitempty"`
}

// Index is the part of indexer.Engine the consumer drives.
type Index interface {
	IndexRow(row rowid.RowKey, text string) error
	DeleteRow(row rowid.RowKey) bool
}

// HandleMessage returns a handler that indexes upserts and tombstones
// deletes. Events that cannot be understood are skipped; indexing failures
// are returned so the message is retried. m may be nil.
func HandleMessage(idx Index, m *metrics.Metrics) kafka.MessageHandler {
	logger := slog.Default().With("component", "row-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[RowChange](value)
		if err != nil {
			return err
		}
		row, err := rowid.ParseRowKey(event.CTID)
		if err != nil {
			return fmt.Errorf("%w: %v", kafka.ErrSkip, err)
		}

		switch event.Op {
		case OpUpsert:
			if err := idx.IndexRow(row, event.Text); err != nil {
				return fmt.Errorf("indexing row %s: %w", row, err)
			}
		case OpDelete:
			if !idx.DeleteRow(row) {
				logger.Debug("delete for unindexed row", "row", row.String())
			}
		default:
			return fmt.Errorf("%w: unknown op %q for row %s", kafka.ErrSkip, event.Op, row)
		}

		if m != nil {
			m.RowsIndexedTotal.WithLabelValues(event.Op).Inc()
		}
		logger.Debug("row change applied", "op", event.Op, "row", row.String())
		return nil
	}
}

package store

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/rowid"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/resilience"
)

// Guarded fails fetches fast while the underlying source keeps failing.
type Guarded struct {
	source  RowSource
	breaker *resilience.CircuitBreaker
}

func Guard(source RowSource, breaker *resilience.CircuitBreaker) *Guarded {
	return &Guarded{source: source, breaker: breaker}
}

func (g *Guarded) FetchRows(ctx context.Context, keys []rowid.RowKey) ([]Row, error) {
	var rows []Row
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		rows, err = g.source.FetchRows(ctx, keys)
		return err
	})
	return rows, err
}

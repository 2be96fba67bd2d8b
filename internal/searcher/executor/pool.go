package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/metrics"
)

// Pool runs queries concurrently on a fixed set of workers. A query holds a
// worker for its whole scan.
type Pool struct {
	workers chan *Worker
	size    int
	metrics *metrics.Metrics
}

// NewPool creates size workers sharing engine and rows. m may be nil.
func NewPool(size int, engine SearchEngine, rows store.RowSource, m *metrics.Metrics) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		workers: make(chan *Worker, size),
		size:    size,
		metrics: m,
	}
	for i := 0; i < size; i++ {
		p.workers <- NewWorker(i, engine, rows, m)
	}
	return p
}

// Execute borrows a worker, waiting until one is free or ctx is done.
func (p *Pool) Execute(ctx context.Context, plan *parser.QueryPlan, opts Options) (*SearchResult, error) {
	start := time.Now()
	var w *Worker
	select {
	case w = <-p.workers:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for search worker: %v", apperrors.ErrTimeout, ctx.Err())
	}
	defer func() { p.workers <- w }()
	if p.metrics != nil {
		p.metrics.WorkerWait.Observe(time.Since(start).Seconds())
	}
	return w.Execute(ctx, plan, opts)
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

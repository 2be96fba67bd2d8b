package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/rowid"
	apperrors "github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/resilience"
)

type flakySource struct {
	err   error
	calls int
}

func (f *flakySource) FetchRows(_ context.Context, keys []rowid.RowKey) ([]Row, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	rows := make([]Row, len(keys))
	for i, k := range keys {
		rows[i] = Row{Key: k}
	}
	return rows, nil
}

func TestGuardedFailsFastWhenSourceIsDown(t *testing.T) {
	src := &flakySource{err: errors.New("connection refused")}
	g := Guard(src, resilience.NewCircuitBreaker("postgres", resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Hour,
	}))
	keys := []rowid.RowKey{{Block: 3, Offset: 5}}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := g.FetchRows(ctx, keys)
		require.Error(t, err)
	}
	_, err := g.FetchRows(ctx, keys)
	assert.ErrorIs(t, err, apperrors.ErrUnavailable)
	assert.Equal(t, 2, src.calls)
}

func TestGuardedPassesRowsThrough(t *testing.T) {
	src := &flakySource{}
	g := Guard(src, resilience.NewCircuitBreaker("postgres", resilience.CircuitBreakerConfig{}))
	rows, err := g.FetchRows(context.Background(), []rowid.RowKey{{Block: 1, Offset: 2}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, rowid.RowKey{Block: 1, Offset: 2}, rows[0].Key)
}

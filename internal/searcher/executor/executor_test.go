package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/rowid"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/metrics"
)

// fakeRows serves the rows it was given and always appends the stale keys,
// the way a table whose rows changed after indexing would.
type fakeRows struct {
	mu    sync.Mutex
	rows  map[rowid.RowKey]string
	stale []rowid.RowKey
	err   error
	calls int
}

func (f *fakeRows) FetchRows(_ context.Context, keys []rowid.RowKey) ([]store.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]store.Row, 0, len(keys)+len(f.stale))
	for _, k := range keys {
		if body, ok := f.rows[k]; ok {
			out = append(out, store.Row{Key: k, Fields: map[string]any{"body": body}})
		}
	}
	for _, k := range f.stale {
		out = append(out, store.Row{Key: k, Fields: map[string]any{"body": "changed"}})
	}
	return out, nil
}

func key(block uint32, offset uint16) rowid.RowKey {
	return rowid.RowKey{Block: block, Offset: offset}
}

var corpus = map[rowid.RowKey]string{
	key(0, 1): "postgres full text search",
	key(0, 2): "postgres replication",
	key(1, 1): "search engine ranking bm25",
	key(1, 2): "mysql full text search",
}

func setup(t *testing.T) (*indexer.Engine, *fakeRows) {
	t.Helper()
	e, err := indexer.NewEngine(config.IndexerConfig{
		DataDir:        t.TempDir(),
		SegmentMaxSize: 1 << 20,
		FlushInterval:  time.Hour,
		Stem:           true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	rows := &fakeRows{rows: make(map[rowid.RowKey]string)}
	for k, text := range corpus {
		require.NoError(t, e.IndexRow(k, text))
		rows.rows[k] = text
	}
	return e, rows
}

func ctids(result *SearchResult) []string {
	out := make([]string, len(result.Results))
	for i, r := range result.Results {
		out[i] = r.CTID
	}
	return out
}

func TestExecuteRanksAndMaterializes(t *testing.T) {
	e, rows := setup(t)
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	w := NewWorker(0, e, rows, m)

	result, err := w.Execute(context.Background(), parser.Parse("search", e.Analyzer()), Options{Limit: 10})
	require.NoError(t, err)

	assert.Equal(t, "search", result.Query)
	assert.Equal(t, 3, result.TotalHits)
	assert.ElementsMatch(t, []string{"(0,1)", "(1,1)", "(1,2)"}, ctids(result))
	assert.Zero(t, result.ScoreMisses)
	assert.Equal(t, map[string]int{"search": 3}, result.TermStats)

	for i, r := range result.Results {
		assert.NotEmpty(t, r.DocAddress)
		assert.Equal(t, corpus[r.key], r.Fields["body"])
		if i > 0 {
			assert.GreaterOrEqual(t, result.Results[i-1].Score, r.Score)
		}
	}
	assert.Equal(t, result.Results[0].Score, result.MaxScore)
	assert.Equal(t, result.Results[len(result.Results)-1].Score, result.MinScore)
}

func TestExecuteBooleanModes(t *testing.T) {
	e, rows := setup(t)
	w := NewWorker(0, e, rows, nil)

	tests := []struct {
		query string
		want  []string
	}{
		{"postgres search", []string{"(0,1)"}},
		{"postgres AND search", []string{"(0,1)"}},
		{"postgres OR search", []string{"(0,1)", "(0,2)", "(1,1)", "(1,2)"}},
		{"search NOT mysql", []string{"(0,1)", "(1,1)"}},
		{"oracle", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			result, err := w.Execute(context.Background(), parser.Parse(tt.query, e.Analyzer()), Options{Limit: 10})
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, ctids(result))
		})
	}
}

func TestExecuteLimitKeepsQueryWideScoreRange(t *testing.T) {
	e, rows := setup(t)
	w := NewWorker(0, e, rows, nil)

	result, err := w.Execute(context.Background(), parser.Parse("postgres OR search", e.Analyzer()), Options{Limit: 1})
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, 4, result.TotalHits)
	assert.Equal(t, "(0,1)", result.Results[0].CTID)
	assert.Equal(t, result.Results[0].Score, result.MaxScore)
	assert.Less(t, result.MinScore, result.MaxScore)
}

func TestExecuteDropsRowsWithoutScore(t *testing.T) {
	e, rows := setup(t)
	rows.stale = []rowid.RowKey{key(7, 7)}
	w := NewWorker(0, e, rows, nil)

	result, err := w.Execute(context.Background(), parser.Parse("search", e.Analyzer()), Options{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ScoreMisses)
	assert.NotContains(t, ctids(result), "(7,7)")
	assert.Len(t, result.Results, 3)
}

func TestExecuteNormalizeAndMinScore(t *testing.T) {
	e, rows := setup(t)
	w := NewWorker(0, e, rows, nil)
	plan := parser.Parse("postgres OR search", e.Analyzer())

	raw, err := w.Execute(context.Background(), plan, Options{Limit: 10})
	require.NoError(t, err)

	normalized, err := w.Execute(context.Background(), plan, Options{Limit: 10, Normalize: true})
	require.NoError(t, err)
	require.Len(t, normalized.Results, 4)
	assert.Equal(t, float32(1), normalized.MaxScore)
	assert.Equal(t, float32(0), normalized.MinScore)
	assert.InDelta(t, 1.0, normalized.Results[0].Score, 1e-6)
	assert.InDelta(t, 0.0, normalized.Results[3].Score, 1e-6)
	assert.Equal(t, ctids(raw), ctids(normalized))

	filtered, err := w.Execute(context.Background(), plan, Options{Limit: 10, MinScore: 0.5})
	require.NoError(t, err)
	assert.Less(t, len(filtered.Results), 4)
	require.NotEmpty(t, filtered.Results)
	for _, r := range filtered.Results {
		assert.GreaterOrEqual(t, (r.Score-raw.MinScore)/(raw.MaxScore-raw.MinScore), float32(0.5)-1e-6)
	}
}

func TestExecuteEmptyPlanSkipsTable(t *testing.T) {
	e, rows := setup(t)
	w := NewWorker(0, e, rows, nil)

	result, err := w.Execute(context.Background(), parser.Parse("the of", e.Analyzer()), Options{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, result.Results)
	assert.Zero(t, rows.calls)
}

func TestExecuteFetchError(t *testing.T) {
	e, rows := setup(t)
	rows.err = errors.New("connection refused")
	w := NewWorker(0, e, rows, nil)

	_, err := w.Execute(context.Background(), parser.Parse("search", e.Analyzer()), Options{Limit: 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "materializing rows")
}

// failingEngine fails Search for one term and delegates everything else.
type failingEngine struct {
	*indexer.Engine
	term string
}

func (f failingEngine) Search(term string) (index.PostingList, error) {
	if term == f.term {
		return nil, errors.New("segment read failed")
	}
	return f.Engine.Search(term)
}

func TestExecuteFailsWhenExcludeTermFails(t *testing.T) {
	e, rows := setup(t)
	plan := parser.Parse("postgres NOT replication", e.Analyzer())
	require.NotEmpty(t, plan.ExcludeTerms)
	w := NewWorker(0, failingEngine{Engine: e, term: plan.ExcludeTerms[0]}, rows, nil)

	result, err := w.Execute(context.Background(), plan, Options{Limit: 10})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "searching exclude term")
	assert.Zero(t, rows.calls)
}

// A row scored by one query must not keep its score into the next one, and
// a later query must see the row's new score.
func TestScansDoNotLeakScores(t *testing.T) {
	e, rows := setup(t)
	target := key(3, 5)
	require.NoError(t, e.IndexRow(target, "alpha"))
	rows.rows[target] = "alpha"
	w := NewWorker(0, e, rows, nil)

	first, err := w.Execute(context.Background(), parser.Parse("alpha", e.Analyzer()), Options{Limit: 10})
	require.NoError(t, err)
	require.Equal(t, []string{"(3,5)"}, ctids(first))
	firstScore, ok := w.scans.Current().Score(target)
	require.True(t, ok)
	assert.Equal(t, first.Results[0].Score, firstScore)

	// The table still returns (3,5) for the next query although it no longer
	// matches it.
	rows.stale = []rowid.RowKey{target}
	second, err := w.Execute(context.Background(), parser.Parse("replication", e.Analyzer()), Options{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"(0,2)"}, ctids(second))
	assert.Equal(t, 1, second.ScoreMisses)
	_, ok = w.scans.Current().Score(target)
	assert.False(t, ok)

	rows.stale = nil
	require.NoError(t, e.IndexRow(target, "alpha alpha alpha replication"))
	third, err := w.Execute(context.Background(), parser.Parse("alpha", e.Analyzer()), Options{Limit: 10})
	require.NoError(t, err)
	require.Equal(t, []string{"(3,5)"}, ctids(third))
	thirdScore, ok := w.scans.Current().Score(target)
	require.True(t, ok)
	assert.Equal(t, third.Results[0].Score, thirdScore)
	assert.NotEqual(t, firstScore, thirdScore)
}

func TestPoolTimesOutWaitingForWorker(t *testing.T) {
	e, rows := setup(t)
	p := NewPool(1, e, rows, metrics.NewWithRegistry(prometheus.NewRegistry()))
	assert.Equal(t, 1, p.Size())

	busy := <-p.workers
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Execute(ctx, parser.Parse("search", e.Analyzer()), Options{Limit: 10})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrTimeout))

	p.workers <- busy
	result, err := p.Execute(context.Background(), parser.Parse("search", e.Analyzer()), Options{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, result.Results, 3)
}

func TestPoolConcurrentQueries(t *testing.T) {
	e, rows := setup(t)
	p := NewPool(3, e, rows, nil)

	queries := map[string][]string{
		"postgres":           {"(0,1)", "(0,2)"},
		"search NOT mysql":   {"(0,1)", "(1,1)"},
		"postgres OR search": {"(0,1)", "(0,2)", "(1,1)", "(1,2)"},
		"replication":        {"(0,2)"},
	}
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 12; i++ {
		for query, want := range queries {
			g.Go(func() error {
				result, err := p.Execute(ctx, parser.Parse(query, e.Analyzer()), Options{Limit: 10})
				if err != nil {
					return err
				}
				if result.ScoreMisses != 0 || !assert.ElementsMatch(t, want, ctids(result)) {
					return errors.New("unexpected result for " + query)
				}
				return nil
			})
		}
	}
	require.NoError(t, g.Wait())
}

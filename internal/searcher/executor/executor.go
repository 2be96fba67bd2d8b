// Package executor runs ranked queries against the index and materializes
// the matching rows from the host table. Each query is one scan: the worker
// resets its execution context, records every ranked hit in it while
// probing the index, and reads the scores back while attaching them to the
// rows the table returns.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/rowid"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/scan"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/metrics"
)

// SearchEngine is the part of indexer.Engine the executor probes.
type SearchEngine interface {
	Search(term string) (index.PostingList, error)
	Stats() indexer.Stats
	DocLength(row rowid.RowKey) int
}

// Options tune one query.
type Options struct {
	Limit int
	// Normalize reports scores mapped onto [0,1] by the query's score range.
	Normalize bool
	// MinScore drops rows whose normalized score is below it. Zero disables.
	MinScore float32
}

type ResultRow struct {
	CTID       string         `json:"ctid"`
	DocAddress string         `json:"doc_address"`
	Score      float32        `json:"score"`
	Fields     map[string]any `json:"fields,omitempty"`

	key rowid.RowKey
}

type SearchResult struct {
	Query       string         `json:"query"`
	TotalHits   int            `json:"total_hits"`
	MinScore    float32        `json:"min_score"`
	MaxScore    float32        `json:"max_score"`
	ScoreMisses int            `json:"score_misses,omitempty"`
	Results     []ResultRow    `json:"results"`
	TermStats   map[string]int `json:"term_stats,omitempty"`
}

// Worker executes one scan at a time. It owns its scan.Manager, so the
// execution context is never shared between goroutines.
type Worker struct {
	id      int
	engine  SearchEngine
	rows    store.RowSource
	scans   scan.Manager
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewWorker creates a worker. m may be nil.
func NewWorker(id int, engine SearchEngine, rows store.RowSource, m *metrics.Metrics) *Worker {
	return &Worker{
		id:      id,
		engine:  engine,
		rows:    rows,
		metrics: m,
		logger:  slog.Default().With("component", "query-executor", "worker", id),
	}
}

func (w *Worker) Execute(ctx context.Context, plan *parser.QueryPlan, opts Options) (*SearchResult, error) {
	if len(plan.Terms) == 0 {
		return &SearchResult{Query: plan.RawQuery, Results: []ResultRow{}}, nil
	}

	sc := w.scans.Fresh()
	ranking, termStats, err := w.probe(ctx, plan, opts.Limit)
	if err != nil {
		return nil, err
	}
	for _, hit := range ranking.Hits {
		sc.AddScore(hit.Row, hit.Score)
		sc.AddDocAddress(hit.Row, hit.Addr)
	}
	sc.SetMaxScore(ranking.MaxScore)
	sc.SetMinScore(ranking.MinScore)
	if w.metrics != nil {
		w.metrics.ScanHits.Observe(float64(sc.Len()))
	}

	result, err := w.materialize(ctx, ranking.Hits, opts)
	if err != nil {
		return nil, err
	}
	result.Query = plan.RawQuery
	result.TotalHits = ranking.Total
	result.TermStats = termStats

	w.logger.Info("query executed",
		"query", plan.RawQuery,
		"terms", plan.Terms,
		"candidates", ranking.Total,
		"results", len(result.Results),
		"score_misses", result.ScoreMisses,
	)
	return result, nil
}

// probe collects postings for the plan, combines them into the candidate
// set and ranks the candidates.
func (w *Worker) probe(ctx context.Context, plan *parser.QueryPlan, limit int) (ranker.Ranking, map[string]int, error) {
	postingsPerTerm := make(map[string]index.PostingList, len(plan.Terms))
	termStats := make(map[string]int, len(plan.Terms))
	var candidates *roaring64.Bitmap
	for _, term := range plan.Terms {
		if err := ctx.Err(); err != nil {
			return ranker.Ranking{}, nil, err
		}
		postings, err := w.engine.Search(term)
		if err != nil {
			return ranker.Ranking{}, nil, fmt.Errorf("searching term %q: %w", term, err)
		}
		termStats[term] = len(postings)
		postingsPerTerm[term] = postings

		rows := rowSet(postings)
		switch {
		case candidates == nil:
			candidates = rows
		case plan.Type == parser.QueryAND:
			candidates.And(rows)
		default:
			candidates.Or(rows)
		}
	}
	for _, term := range plan.ExcludeTerms {
		postings, err := w.engine.Search(term)
		if err != nil {
			return ranker.Ranking{}, nil, fmt.Errorf("searching exclude term %q: %w", term, err)
		}
		candidates.AndNot(rowSet(postings))
	}

	filtered := make(map[string]index.PostingList, len(postingsPerTerm))
	for term, postings := range postingsPerTerm {
		kept := make(index.PostingList, 0, len(postings))
		for _, p := range postings {
			if candidates.Contains(p.Row.Pack()) {
				kept = append(kept, p)
			}
		}
		if len(kept) > 0 {
			filtered[term] = kept
		}
	}

	stats := w.engine.Stats()
	params := ranker.RankParams{
		TotalDocs:    stats.TotalDocs,
		AvgDocLength: stats.AvgDocLength,
		DocFreq:      termStats,
	}
	return ranker.Rank(filtered, params, w.engine.DocLength, limit), termStats, nil
}

// materialize fetches the hit rows from the table and attaches the scores
// recorded during the probe. Rows the context has no score for are dropped.
func (w *Worker) materialize(ctx context.Context, hits []ranker.Hit, opts Options) (*SearchResult, error) {
	keys := make([]rowid.RowKey, len(hits))
	for i, hit := range hits {
		keys[i] = hit.Row
	}
	rows, err := w.rows.FetchRows(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("materializing rows: %w", err)
	}

	sc := w.scans.Current()
	result := &SearchResult{
		MinScore: sc.MinScore(),
		MaxScore: sc.MaxScore(),
		Results:  make([]ResultRow, 0, len(rows)),
	}
	if opts.Normalize {
		result.MinScore = 0
		result.MaxScore = 1
	}
	for _, row := range rows {
		score, ok := sc.Score(row.Key)
		if !ok {
			result.ScoreMisses++
			continue
		}
		normalized := sc.Normalize(score)
		if opts.MinScore > 0 && normalized < opts.MinScore {
			continue
		}
		if opts.Normalize {
			score = normalized
		}
		out := ResultRow{
			CTID:   row.Key.String(),
			Score:  score,
			Fields: row.Fields,
			key:    row.Key,
		}
		if addr, ok := sc.DocAddress(row.Key); ok {
			out.DocAddress = addr.String()
		}
		result.Results = append(result.Results, out)
	}
	if w.metrics != nil {
		w.metrics.ScoreLookupsTotal.WithLabelValues("hit").Add(float64(len(rows) - result.ScoreMisses))
		w.metrics.ScoreLookupsTotal.WithLabelValues("miss").Add(float64(result.ScoreMisses))
	}

	sort.Slice(result.Results, func(i, j int) bool {
		a, b := result.Results[i], result.Results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.key.Less(b.key)
	})
	return result, nil
}

func rowSet(postings index.PostingList) *roaring64.Bitmap {
	bm := roaring64.New()
	for _, p := range postings {
		bm.Add(p.Row.Pack())
	}
	return bm
}

package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/rowid"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/metrics"
)

type SearchExecutor interface {
	Execute(ctx context.Context, plan *parser.QueryPlan, opts executor.Options) (*executor.SearchResult, error)
}

// DocLookup resolves a document address from a search hit.
type DocLookup interface {
	Doc(addr rowid.DocAddress) (index.StoredDoc, bool)
}

type Handler struct {
	executor     SearchExecutor
	docs         DocLookup
	analyzer     *tokenizer.Analyzer
	cache        *cache.QueryCache
	metrics      *metrics.Metrics
	defaultLimit int
	maxResults   int
	queryTimeout time.Duration
	logger       *slog.Logger
}

// New creates the search API handler. queryCache and m may be nil.
func New(
	exec SearchExecutor,
	docs DocLookup,
	analyzer *tokenizer.Analyzer,
	queryCache *cache.QueryCache,
	cfg config.SearchConfig,
	m *metrics.Metrics,
) *Handler {
	return &Handler{
		executor:     exec,
		docs:         docs,
		analyzer:     analyzer,
		cache:        queryCache,
		metrics:      m,
		defaultLimit: cfg.DefaultLimit,
		maxResults:   cfg.MaxResults,
		queryTimeout: cfg.QueryTimeout,
		logger:       slog.Default().With("component", "search-handler"),
	}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/docs/{address}", h.Doc)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	opts, err := h.parseOptions(r)
	if err != nil {
		h.writeError(w, apperrors.HTTPStatusCode(err), err.Error())
		return
	}

	plan := parser.Parse(query, h.analyzer)
	if len(plan.Terms) == 0 {
		h.observe("zero_result", "none", start, 0)
		h.writeJSON(w, http.StatusOK, &executor.SearchResult{
			Query:   query,
			Results: []executor.ResultRow{},
		})
		return
	}

	if h.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.queryTimeout)
		defer cancel()
	}
	execute := func() (*executor.SearchResult, error) {
		return h.executor.Execute(ctx, plan, opts)
	}

	var result *executor.SearchResult
	cacheHit := false
	if h.cache != nil {
		result, cacheHit, err = h.cache.GetOrCompute(ctx, plan, opts, execute)
	} else {
		result, err = execute()
	}
	if err != nil {
		log.Error("search execution failed", "query", query, "error", err)
		h.observe("error", "none", start, 0)
		status := apperrors.HTTPStatusCode(err)
		message := "search failed"
		if status == http.StatusGatewayTimeout {
			message = "search timed out"
		}
		h.writeError(w, status, message)
		return
	}

	cacheStatus := "miss"
	if cacheHit {
		cacheStatus = "hit"
	}
	resultType := "hit"
	if len(result.Results) == 0 {
		resultType = "zero_result"
	}
	h.observe(resultType, cacheStatus, start, len(result.Results))
	log.Info("search completed",
		"query", query,
		"total_hits", result.TotalHits,
		"returned", len(result.Results),
		"score_misses", result.ScoreMisses,
		"cache_hit", cacheHit,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) parseOptions(r *http.Request) (executor.Options, error) {
	q := r.URL.Query()
	opts := executor.Options{Limit: h.defaultLimit}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			return opts, fmt.Errorf("%w: limit must be a positive integer", apperrors.ErrInvalidInput)
		}
		opts.Limit = min(limit, h.maxResults)
	}
	if v := q.Get("normalize"); v != "" {
		normalize, err := strconv.ParseBool(v)
		if err != nil {
			return opts, fmt.Errorf("%w: normalize must be a boolean", apperrors.ErrInvalidInput)
		}
		opts.Normalize = normalize
	}
	if v := q.Get("min_score"); v != "" {
		score, err := strconv.ParseFloat(v, 32)
		if err != nil || score < 0 || score > 1 {
			return opts, fmt.Errorf("%w: min_score must be between 0 and 1", apperrors.ErrInvalidInput)
		}
		opts.MinScore = float32(score)
	}
	return opts, nil
}

// Doc returns what the index stores for a document address taken from a
// search result.
func (h *Handler) Doc(w http.ResponseWriter, r *http.Request) {
	addr, err := rowid.ParseDocAddress(r.PathValue("address"))
	if err != nil {
		h.writeError(w, apperrors.HTTPStatusCode(err), err.Error())
		return
	}
	doc, ok := h.docs.Doc(addr)
	if !ok {
		h.writeError(w, http.StatusNotFound, apperrors.ErrDocumentNotFound.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"doc_address": doc.Addr.String(),
		"ctid":        doc.Row.String(),
		"length":      doc.Length,
	})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func (h *Handler) observe(resultType, cacheStatus string, start time.Time, returned int) {
	if h.metrics == nil {
		return
	}
	h.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	if resultType != "error" {
		h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(time.Since(start).Seconds())
		h.metrics.SearchResultsCount.Observe(float64(returned))
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// Package cache stores materialized search results in Redis, keyed by the
// canonical form of the query plan and the options that shape the result.
// Concurrent misses for the same key are collapsed into one execution.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/redis"
)

// Store is the key-value backend. *pkgredis.Client implements it.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
}

type QueryCache struct {
	store   Store
	prefix  string
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New creates a cache whose keys are namespaced by table. m may be nil.
func New(store Store, table string, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		store:   store,
		prefix:  "rowsearch:" + table + ":",
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

func (c *QueryCache) Get(ctx context.Context, key string) (*executor.SearchResult, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNil(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.recordMiss()
		return nil, false
	}
	var result executor.SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.recordMiss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	return &result, true
}

func (c *QueryCache) Set(ctx context.Context, key string, result *executor.SearchResult) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result for plan and opts, or runs compute
// and caches what it returns. The boolean reports a cache hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	plan *parser.QueryPlan,
	opts executor.Options,
	compute func() (*executor.SearchResult, error),
) (*executor.SearchResult, bool, error) {
	key := c.Key(plan, opts)
	if result, ok := c.Get(ctx, key); ok {
		result.Query = plan.RawQuery
		return result, true, nil
	}
	val, err, _ := c.group.Do(key, func() (any, error) {
		result, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, key, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	// Callers sharing a flight get their own copy with their own query text.
	shared := *val.(*executor.SearchResult)
	shared.Query = plan.RawQuery
	return &shared, false, nil
}

// Invalidate drops every cached result for the table.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.store.DeletePrefix(ctx, c.prefix)
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Key derives the cache key. Plans that differ only in term order, case or
// inflection share a key.
func (c *QueryCache) Key(plan *parser.QueryPlan, opts executor.Options) string {
	raw := plan.Normalized() +
		"|limit=" + strconv.Itoa(opts.Limit) +
		"|norm=" + strconv.FormatBool(opts.Normalize) +
		"|min=" + strconv.FormatFloat(float64(opts.MinScore), 'g', -1, 32)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", c.prefix, hash[:16])
}

func (c *QueryCache) recordMiss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

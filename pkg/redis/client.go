// Package redis wraps go-redis/v9 for the search result cache: plain string
// get/set with TTL, and batched deletion of a key namespace.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/pkg/config"
)

const scanBatch = 200

type Client struct {
	rdb redis.UniversalClient
}

// NewClient connects to the configured server and verifies it with a PING.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb}, nil
}

// Wrap adapts an existing go-redis client.
func Wrap(rdb redis.UniversalClient) *Client {
	return &Client{rdb: rdb}
}

// Get returns the value stored at key. A missing key yields an error for
// which IsNil reports true.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	return c.rdb.Get(ctx, key).Bytes()
}

func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// DeletePrefix removes every key starting with prefix and returns how many
// were removed. Keys are collected with SCAN and unlinked in batches.
func (c *Client) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	var (
		deleted int64
		batch   = make([]string, 0, scanBatch)
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.rdb.Unlink(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("unlinking %d keys: %w", len(batch), err)
		}
		deleted += n
		batch = batch[:0]
		return nil
	}

	iter := c.rdb.Scan(ctx, 0, prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("scanning %s*: %w", prefix, err)
	}
	return deleted, flush()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// IsNil reports whether err means the key does not exist.
func IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}

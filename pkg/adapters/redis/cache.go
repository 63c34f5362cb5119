package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/concierge/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// DefaultResultTTL bounds how long idempotent results are replayed.
const DefaultResultTTL = 24 * time.Hour

// ResultCache implements ports.ResultCache using Redis strings.
type ResultCache struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// CacheOption configures a ResultCache.
type CacheOption func(*ResultCache)

// WithResultTTL sets the expiration of cached results.
func WithResultTTL(ttl time.Duration) CacheOption {
	return func(c *ResultCache) {
		c.ttl = ttl
	}
}

// WithCachePrefix sets the key prefix.
func WithCachePrefix(prefix string) CacheOption {
	return func(c *ResultCache) {
		c.prefix = prefix
	}
}

// NewResultCache creates a cache on client.
func NewResultCache(client *backend.Client, opts ...CacheOption) *ResultCache {
	c := &ResultCache{
		client: client,
		prefix: DefaultPrefix,
		ttl:    DefaultResultTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ResultCache) key(k string) string {
	return c.prefix + "result:" + k
}

// Get returns the result stored under key.
func (c *ResultCache) Get(ctx context.Context, key string) (domain.ToolResult, bool, error) {
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, backend.Nil) {
		return domain.ToolResult{}, false, nil
	}
	if err != nil {
		return domain.ToolResult{}, false, fmt.Errorf("failed to get result from redis: %w", err)
	}
	var res domain.ToolResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return domain.ToolResult{}, false, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return res, true, nil
}

// Put stores result under key.
func (c *ResultCache) Put(ctx context.Context, key string, result domain.ToolResult) error {
	result.Cached = false
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := c.client.Set(ctx, c.key(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to put result to redis: %w", err)
	}
	return nil
}

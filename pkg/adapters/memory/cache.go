package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/aretw0/concierge/pkg/domain"
)

// ResultCache implements ports.ResultCache in memory.
type ResultCache struct {
	mu   sync.RWMutex
	data map[string]domain.ToolResult
}

// NewResultCache creates an empty cache.
func NewResultCache() *ResultCache {
	return &ResultCache{data: make(map[string]domain.ToolResult)}
}

// Get returns the result stored under key.
func (c *ResultCache) Get(ctx context.Context, key string) (domain.ToolResult, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res, ok := c.data[key]
	if ok {
		res.Payload = maps.Clone(res.Payload)
	}
	return res, ok, nil
}

// Put stores result under key.
func (c *ResultCache) Put(ctx context.Context, key string, result domain.ToolResult) error {
	result.Payload = maps.Clone(result.Payload)
	result.Cached = false
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = result
	return nil
}

// Len returns the number of cached results.
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ResultCache implements ports.ResultCache on the tool_results table.
type ResultCache struct {
	pool *pgxpool.Pool
}

// NewResultCache creates a cache on pool.
func NewResultCache(pool *pgxpool.Pool) *ResultCache {
	return &ResultCache{pool: pool}
}

// Get returns the result stored under key.
func (c *ResultCache) Get(ctx context.Context, key string) (domain.ToolResult, bool, error) {
	var payload []byte
	err := c.pool.QueryRow(ctx, `SELECT payload FROM tool_results WHERE idempotency_key = $1`, key).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ToolResult{}, false, nil
		}
		return domain.ToolResult{}, false, fmt.Errorf("failed to read result: %w", err)
	}
	var res domain.ToolResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return domain.ToolResult{}, false, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return res, true, nil
}

// Put upserts result under key.
func (c *ResultCache) Put(ctx context.Context, key string, result domain.ToolResult) error {
	result.Cached = false
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	_, err = c.pool.Exec(ctx,
		`INSERT INTO tool_results (idempotency_key, payload, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (idempotency_key) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`,
		key, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}
	return nil
}

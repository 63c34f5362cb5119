package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aretw0/concierge/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

// QuotaCounter implements ports.QuotaCounter with one INCR key per fixed
// window. Keys expire after two windows.
type QuotaCounter struct {
	client *backend.Client
	prefix string
	window time.Duration
	now    func() time.Time
}

// QuotaOption configures a QuotaCounter.
type QuotaOption func(*QuotaCounter)

// WithQuotaClock sets the time source that selects the window.
func WithQuotaClock(now func() time.Time) QuotaOption {
	return func(q *QuotaCounter) {
		q.now = now
	}
}

// WithQuotaPrefix sets the key prefix.
func WithQuotaPrefix(prefix string) QuotaOption {
	return func(q *QuotaCounter) {
		q.prefix = prefix
	}
}

// NewQuotaCounter creates a counter with the given window length.
func NewQuotaCounter(client *backend.Client, window time.Duration, opts ...QuotaOption) *QuotaCounter {
	if window <= 0 {
		window = time.Hour
	}
	q := &QuotaCounter{
		client: client,
		prefix: DefaultPrefix,
		window: window,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *QuotaCounter) key(k ports.QuotaKey) string {
	w := q.now().UnixNano() / int64(q.window)
	return q.prefix + "quota:" + k.WorkspaceID + ":" + k.Class + ":" + strconv.FormatInt(w, 10)
}

// Usage returns the count for the current window.
func (q *QuotaCounter) Usage(ctx context.Context, key ports.QuotaKey) (int, error) {
	n, err := q.client.Get(ctx, q.key(key)).Int()
	if errors.Is(err, backend.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read quota: %w", err)
	}
	return n, nil
}

// Incr adds one to the current window and returns the new count.
func (q *QuotaCounter) Incr(ctx context.Context, key ports.QuotaKey) (int, error) {
	k := q.key(key)
	var incr *backend.IntCmd
	_, err := q.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.Expire(ctx, k, 2*q.window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment quota: %w", err)
	}
	return int(incr.Val()), nil
}

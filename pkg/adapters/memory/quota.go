package memory

import (
	"context"
	"sync"
	"time"

	"github.com/aretw0/concierge/pkg/ports"
)

type windowKey struct {
	key    ports.QuotaKey
	window int64
}

// QuotaCounter implements ports.QuotaCounter with fixed windows in memory.
type QuotaCounter struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	counts map[windowKey]int
}

// QuotaOption configures a QuotaCounter.
type QuotaOption func(*QuotaCounter)

// WithQuotaClock sets the time source that selects the window.
func WithQuotaClock(now func() time.Time) QuotaOption {
	return func(q *QuotaCounter) {
		q.now = now
	}
}

// NewQuotaCounter creates a counter with the given window length.
func NewQuotaCounter(window time.Duration, opts ...QuotaOption) *QuotaCounter {
	if window <= 0 {
		window = time.Hour
	}
	q := &QuotaCounter{
		window: window,
		now:    time.Now,
		counts: make(map[windowKey]int),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *QuotaCounter) current(key ports.QuotaKey) windowKey {
	return windowKey{key: key, window: q.now().UnixNano() / int64(q.window)}
}

// Usage returns the count for the current window.
func (q *QuotaCounter) Usage(ctx context.Context, key ports.QuotaKey) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.counts[q.current(key)], nil
}

// Incr adds one to the current window. Expired windows are dropped.
func (q *QuotaCounter) Incr(ctx context.Context, key ports.QuotaKey) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	wk := q.current(key)
	for k := range q.counts {
		if k.window < wk.window {
			delete(q.counts, k)
		}
	}
	q.counts[wk]++
	return q.counts[wk], nil
}

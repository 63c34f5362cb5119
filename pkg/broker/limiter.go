package broker

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// limiter throttles outbound calls to one target.
type limiter struct {
	rate      *rate.Limiter
	semaphore chan struct{}
}

func newLimiter(cfg TargetConfig) *limiter {
	l := &limiter{}
	if cfg.QPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = max(1, int(cfg.QPS))
		}
		l.rate = rate.NewLimiter(rate.Limit(cfg.QPS), burst)
	}
	if cfg.MaxConcurrent > 0 {
		l.semaphore = make(chan struct{}, cfg.MaxConcurrent)
	}
	return l
}

// acquire waits for permission to call. The returned func releases the
// concurrency slot.
func (l *limiter) acquire(ctx context.Context) (func(), error) {
	if l.rate != nil {
		if err := l.rate.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait failed: %w", err)
		}
	}
	if l.semaphore == nil {
		return func() {}, nil
	}
	select {
	case l.semaphore <- struct{}{}:
		return func() { <-l.semaphore }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("concurrency wait failed: %w", ctx.Err())
	}
}

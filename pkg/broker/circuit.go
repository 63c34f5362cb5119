package broker

import (
	"sync"
	"time"

	"github.com/aretw0/concierge/pkg/domain"
)

// circuit is the breaker of one target.
type circuit struct {
	mu        sync.Mutex
	target    string
	threshold int
	cooldown  time.Duration

	phase    domain.CircuitPhase
	failures int
	openedAt time.Time
	probing  bool
}

func newCircuit(target string, threshold int, cooldown time.Duration) *circuit {
	c := &circuit{
		target:    target,
		threshold: threshold,
		cooldown:  cooldown,
		phase:     domain.CircuitClosed,
	}
	circuitState.WithLabelValues(target).Set(phaseValue(c.phase))
	return c
}

// allow reports whether a call may proceed. After the cool-down exactly one
// caller is admitted as the probe; others fail fast until it reports back.
func (c *circuit) allow(now time.Time) bool {
	if c.threshold <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.phase {
	case domain.CircuitOpen:
		if now.Sub(c.openedAt) < c.cooldown {
			return false
		}
		c.setPhase(domain.CircuitHalfOpen)
		c.probing = true
		return true
	case domain.CircuitHalfOpen:
		if c.probing {
			return false
		}
		c.probing = true
		return true
	default:
		return true
	}
}

// success records a call that reached the target, including permanent
// rejections issued by it.
func (c *circuit) success() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = 0
	c.probing = false
	c.setPhase(domain.CircuitClosed)
}

// release gives up an admission without an outcome. A half-open probe that
// never reached the target lets the next caller probe instead.
func (c *circuit) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probing = false
}

// failure records a transient failure.
func (c *circuit) failure(now time.Time) {
	if c.threshold <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == domain.CircuitHalfOpen {
		c.trip(now)
		return
	}
	c.failures++
	if c.failures >= c.threshold {
		c.trip(now)
	}
}

func (c *circuit) trip(now time.Time) {
	c.openedAt = now
	c.probing = false
	c.setPhase(domain.CircuitOpen)
}

func (c *circuit) setPhase(p domain.CircuitPhase) {
	c.phase = p
	circuitState.WithLabelValues(c.target).Set(phaseValue(p))
}

func (c *circuit) snapshot() domain.CircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.CircuitState{
		Target:              c.target,
		Phase:               c.phase,
		ConsecutiveFailures: c.failures,
		OpenedAt:            c.openedAt,
	}
}

func phaseValue(p domain.CircuitPhase) float64 {
	switch p {
	case domain.CircuitOpen:
		return 2
	case domain.CircuitHalfOpen:
		return 1
	default:
		return 0
	}
}

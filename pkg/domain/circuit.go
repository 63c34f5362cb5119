package domain

import "time"

// CircuitPhase is the breaker position of a tool target.
type CircuitPhase string

const (
	CircuitClosed   CircuitPhase = "closed"
	CircuitOpen     CircuitPhase = "open"
	CircuitHalfOpen CircuitPhase = "half_open"
)

// CircuitState is the in-memory breaker snapshot for one target.
type CircuitState struct {
	Target              string       `json:"target"`
	Phase               CircuitPhase `json:"phase"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	OpenedAt            time.Time    `json:"opened_at,omitempty"`
}

package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	toolAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "concierge",
		Subsystem: "broker",
		Name:      "tool_attempts_total",
		Help:      "Tool attempts by tool and outcome status.",
	}, []string{"tool", "status"})

	toolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "concierge",
		Subsystem: "broker",
		Name:      "tool_attempt_duration_seconds",
		Help:      "Duration of single tool attempts.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tool"})

	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "concierge",
		Subsystem: "broker",
		Name:      "idempotency_hits_total",
		Help:      "Results replayed from the idempotency cache.",
	}, []string{"tool"})

	circuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "concierge",
		Subsystem: "broker",
		Name:      "circuit_state",
		Help:      "Circuit phase per target (0 closed, 1 half_open, 2 open).",
	}, []string{"tool"})
)

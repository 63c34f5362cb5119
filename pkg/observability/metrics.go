package observability

import (
	"context"
	"strconv"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports turn records to Prometheus.
type Metrics struct {
	turns       *prometheus.CounterVec
	fallbacks   *prometheus.CounterVec
	retries     prometheus.Counter
	stages      *prometheus.HistogramVec
	transitions *prometheus.CounterVec
}

// NewMetrics registers the turn collectors on reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Name:      "turns_total",
			Help:      "Handled turns by route and resulting next action.",
		}, []string{"route", "next_action"}),
		fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Name:      "fallbacks_total",
			Help:      "Turns answered by the deterministic fallback.",
		}, []string{"route"}),
		retries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "concierge",
			Name:      "turn_conflict_retries_total",
			Help:      "Turns re-run after a version conflict.",
		}),
		stages: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "concierge",
			Name:      "turn_stage_duration_seconds",
			Help:      "Per-stage turn latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Name:      "transitions_total",
			Help:      "FSM events by event name and acceptance.",
		}, []string{"event", "accepted"}),
	}
}

// Record implements ports.TelemetrySink.
func (m *Metrics) Record(_ context.Context, rec domain.TurnRecord) {
	m.turns.WithLabelValues(string(rec.Route), string(rec.NextAction)).Inc()
	if rec.Fallback {
		m.fallbacks.WithLabelValues(string(rec.Route)).Inc()
	}
	if rec.Retries > 0 {
		m.retries.Add(float64(rec.Retries))
	}
	for stage, d := range rec.Latency {
		m.stages.WithLabelValues(string(stage)).Observe(d.Seconds())
	}
}

// Hooks returns lifecycle hooks that count transitions.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTransition: func(_ context.Context, tr domain.TransitionRecord) {
			m.transitions.WithLabelValues(string(tr.Event), strconv.FormatBool(tr.Accepted)).Inc()
		},
	}
}

// MergeHooks calls every non-nil callback of each hook set in order.
func MergeHooks(sets ...domain.LifecycleHooks) domain.LifecycleHooks {
	var merged domain.LifecycleHooks
	for _, h := range sets {
		if h.OnTransition != nil {
			prev, fn := merged.OnTransition, h.OnTransition
			merged.OnTransition = func(ctx context.Context, tr domain.TransitionRecord) {
				if prev != nil {
					prev(ctx, tr)
				}
				fn(ctx, tr)
			}
		}
		if h.OnToolReturn != nil {
			prev, fn := merged.OnToolReturn, h.OnToolReturn
			merged.OnToolReturn = func(ctx context.Context, ev domain.ToolEvent) {
				if prev != nil {
					prev(ctx, ev)
				}
				fn(ctx, ev)
			}
		}
		if h.OnTurn != nil {
			prev, fn := merged.OnTurn, h.OnTurn
			merged.OnTurn = func(ctx context.Context, rec domain.TurnRecord) {
				if prev != nil {
					prev(ctx, rec)
				}
				fn(ctx, rec)
			}
		}
	}
	return merged
}

// Package canary splits traffic between the legacy and model-driven pipelines.
//
// The route of a conversation is a pure function of its id and the current
// configuration, so it stays stable for as long as the configuration does.
package canary

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/pipeline"
	"github.com/cespare/xxhash/v2"
)

// Buckets is the number of hash buckets.
const Buckets = 100

// Config is the canary configuration.
// Percent is the literal share of buckets routed to the model pipeline;
// Enabled gates the feature as a whole.
type Config struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	Percent int  `mapstructure:"percent" json:"percent" validate:"gte=0,lte=100"`
}

// Validate checks the percent range.
func (c Config) Validate() error {
	if c.Percent < 0 || c.Percent > 100 {
		return fmt.Errorf("canary percent %d out of range [0,100]", c.Percent)
	}
	return nil
}

// Bucket maps a conversation id onto [0, Buckets).
func Bucket(conversationID string) int {
	return int(xxhash.Sum64String(conversationID) % Buckets)
}

// Decide routes a conversation id under cfg.
func Decide(cfg Config, conversationID string) domain.RouteDecision {
	bucket := Bucket(conversationID)
	route := domain.RouteLegacy
	if cfg.Enabled && bucket < cfg.Percent {
		route = domain.RouteModel
	}
	return domain.RouteDecision{
		Route:   route,
		Bucket:  bucket,
		Enabled: cfg.Enabled,
		Percent: cfg.Percent,
	}
}

// Router holds the live configuration and the two pipeline variants.
type Router struct {
	cfg    atomic.Pointer[Config]
	legacy pipeline.Pipeline
	model  pipeline.Pipeline
}

// NewRouter creates a Router. model may be nil when the canary is never enabled.
func NewRouter(cfg Config, legacy, model pipeline.Pipeline) (*Router, error) {
	if legacy == nil {
		return nil, fmt.Errorf("legacy pipeline is required")
	}
	r := &Router{legacy: legacy, model: model}
	if err := r.Update(cfg); err != nil {
		return nil, err
	}
	return r, nil
}

// Update swaps the configuration. In-flight turns keep the decision they made.
func (r *Router) Update(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Enabled && r.model == nil {
		return fmt.Errorf("canary enabled without a model pipeline")
	}
	r.cfg.Store(&cfg)
	return nil
}

// Config returns the current configuration.
func (r *Router) Config() Config {
	return *r.cfg.Load()
}

// Decide routes a conversation id under the current configuration.
func (r *Router) Decide(conversationID string) domain.RouteDecision {
	return Decide(r.Config(), conversationID)
}

// Pipeline returns the variant for a route.
func (r *Router) Pipeline(route domain.Route) pipeline.Pipeline {
	if route == domain.RouteModel && r.model != nil {
		return r.model
	}
	return r.legacy
}

// Run decides the route for the turn and forwards to the chosen variant.
func (r *Router) Run(ctx context.Context, in pipeline.Input) (domain.RouteDecision, pipeline.Output, error) {
	decision := r.Decide(in.Turn.ConversationID)
	out, err := r.Pipeline(decision.Route).Run(ctx, in)
	return decision, out, err
}

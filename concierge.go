package concierge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/concierge/internal/logging"
	"github.com/aretw0/concierge/internal/runtime"
	"github.com/aretw0/concierge/pkg/adapters/memory"
	"github.com/aretw0/concierge/pkg/broker"
	"github.com/aretw0/concierge/pkg/canary"
	"github.com/aretw0/concierge/pkg/dialogue"
	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/persistence/middleware"
	"github.com/aretw0/concierge/pkg/pipeline"
	"github.com/aretw0/concierge/pkg/policy"
	"github.com/aretw0/concierge/pkg/ports"
	"github.com/aretw0/concierge/pkg/registry"
	"github.com/aretw0/concierge/pkg/session"
	"github.com/aretw0/concierge/pkg/slots"
)

// Settings tune the turn loop.
type Settings = runtime.Settings

// DefaultSettings returns the production defaults.
func DefaultSettings() Settings { return runtime.DefaultSettings() }

// Orchestrator is the high-level entry point. It owns the wired components
// and exposes turn handling plus the operator surface (state, audit log,
// reset, handoff, canary).
type Orchestrator struct {
	runtime  *runtime.Orchestrator
	machine  *dialogue.Machine
	sessions *session.Manager
	router   *canary.Router
	policy   *policy.Engine
	registry *registry.Registry
	broker   *broker.Broker
	logger   *slog.Logger
}

type options struct {
	store       ports.ConversationStore
	middlewares []middleware.Middleware
	cache       ports.ResultCache
	quota       ports.QuotaCounter
	quotaWindow time.Duration
	locker      ports.DistributedLocker
	lockTTL     time.Duration
	policy      *policy.Config
	targets     map[string]ports.ToolTarget
	sandbox     bool
	planner     ports.Planner
	canary      canary.Config
	settings    Settings
	responder   ports.Responder
	sink        ports.TelemetrySink
	hooks       domain.LifecycleHooks
	brokerOpts  []broker.Option
	logger      *slog.Logger
	clock       func() time.Time
	location    *time.Location
}

// Option configures New.
type Option func(*options)

// WithStore sets the conversation store (default: in memory).
func WithStore(store ports.ConversationStore) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithStoreMiddleware wraps the store. The first middleware is the outermost.
func WithStoreMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) {
		o.middlewares = append(o.middlewares, mws...)
	}
}

// WithResultCache sets the idempotency cache (default: in memory).
func WithResultCache(cache ports.ResultCache) Option {
	return func(o *options) {
		o.cache = cache
	}
}

// WithQuota sets the usage counter (default: in memory, hourly windows).
func WithQuota(quota ports.QuotaCounter) Option {
	return func(o *options) {
		o.quota = quota
	}
}

// WithQuotaWindow sets the window of the default in-memory counter.
func WithQuotaWindow(window time.Duration) Option {
	return func(o *options) {
		o.quotaWindow = window
	}
}

// WithLocker adds a distributed lock around each conversation's exclusive section.
func WithLocker(locker ports.DistributedLocker, ttl time.Duration) Option {
	return func(o *options) {
		o.locker = locker
		o.lockTTL = ttl
	}
}

// WithPolicy sets the tool catalog and allow-lists (default: policy.DefaultConfig).
func WithPolicy(cfg policy.Config) Option {
	return func(o *options) {
		o.policy = &cfg
	}
}

// WithTarget registers the target executing a tool.
func WithTarget(name string, target ports.ToolTarget) Option {
	return func(o *options) {
		o.targets[name] = target
	}
}

// WithSandboxTargets serves the built-in catalog tools from an in-memory
// booking backend. Targets set with WithTarget take precedence.
func WithSandboxTargets() Option {
	return func(o *options) {
		o.sandbox = true
	}
}

// WithPlanner enables the model-driven pipeline.
func WithPlanner(p ports.Planner) Option {
	return func(o *options) {
		o.planner = p
	}
}

// WithCanary sets the initial canary configuration.
func WithCanary(cfg canary.Config) Option {
	return func(o *options) {
		o.canary = cfg
	}
}

// WithSettings replaces the turn settings.
func WithSettings(s Settings) Option {
	return func(o *options) {
		o.settings = s
	}
}

// WithResponder sets the reply generator.
func WithResponder(r ports.Responder) Option {
	return func(o *options) {
		o.responder = r
	}
}

// WithTelemetry sets the per-turn record sink.
func WithTelemetry(sink ports.TelemetrySink) Option {
	return func(o *options) {
		o.sink = sink
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(o *options) {
		o.hooks = hooks
	}
}

// WithBrokerOptions passes options to the tool broker.
func WithBrokerOptions(opts ...broker.Option) Option {
	return func(o *options) {
		o.brokerOpts = append(o.brokerOpts, opts...)
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock sets the time source used for relative dates, circuits and records.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.clock = now
	}
}

// WithLocation sets the time zone relative dates resolve in.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		o.location = loc
	}
}

// New wires an Orchestrator.
func New(opts ...Option) (*Orchestrator, error) {
	o := &options{
		targets:     make(map[string]ports.ToolTarget),
		settings:    DefaultSettings(),
		quotaWindow: time.Hour,
		logger:      logging.NewNop(),
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.NewNop()
	}

	store := o.store
	if store == nil {
		store = memory.NewStore()
	}
	store = middleware.Chain(store, o.middlewares...)
	if o.cache == nil {
		o.cache = memory.NewResultCache()
	}
	if o.quota == nil {
		o.quota = memory.NewQuotaCounter(o.quotaWindow, memory.WithQuotaClock(o.clock))
	}

	sessionOpts := []session.Option{session.WithLogger(o.logger)}
	if o.locker != nil {
		sessionOpts = append(sessionOpts, session.WithLocker(o.locker))
		if o.lockTTL > 0 {
			sessionOpts = append(sessionOpts, session.WithLockTTL(o.lockTTL))
		}
	}
	sessions := session.NewManager(store, sessionOpts...)

	normOpts := []slots.Option{slots.WithClock(o.clock)}
	if o.location != nil {
		normOpts = append(normOpts, slots.WithLocation(o.location))
	}
	normalizer := slots.New(normOpts...)

	pcfg := policy.DefaultConfig()
	if o.policy != nil {
		pcfg = *o.policy
	}
	engine, err := policy.New(pcfg, policy.WithNormalizer(normalizer))
	if err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}

	reg := registry.NewRegistry()
	if o.sandbox {
		memory.NewBookings(4).Register(reg)
	}
	for name, target := range o.targets {
		reg.Register(name, target)
	}

	brokerOpts := append([]broker.Option{
		broker.WithLogger(o.logger),
		broker.WithClock(o.clock),
		broker.WithHooks(o.hooks),
	}, o.brokerOpts...)
	b := broker.New(reg, o.cache, brokerOpts...)

	var model pipeline.Pipeline
	if o.planner != nil {
		model = pipeline.NewModel(o.planner)
	}
	router, err := canary.NewRouter(o.canary, pipeline.NewLegacy(), model)
	if err != nil {
		return nil, err
	}

	rtOpts := []runtime.Option{
		runtime.WithSettings(o.settings),
		runtime.WithHooks(o.hooks),
		runtime.WithLogger(o.logger),
		runtime.WithClock(o.clock),
	}
	if o.responder != nil {
		rtOpts = append(rtOpts, runtime.WithResponder(o.responder))
	}
	if o.sink != nil {
		rtOpts = append(rtOpts, runtime.WithTelemetry(o.sink))
	}
	rt, err := runtime.New(runtime.Deps{
		Sessions:   sessions,
		Router:     router,
		Policy:     engine,
		Broker:     b,
		Normalizer: normalizer,
		Quota:      o.quota,
	}, rtOpts...)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		runtime: rt,
		machine: dialogue.NewMachine(sessions,
			dialogue.WithHooks(o.hooks),
			dialogue.WithClock(o.clock),
			dialogue.WithLogger(o.logger),
		),
		sessions: sessions,
		router:   router,
		policy:   engine,
		registry: reg,
		broker:   b,
		logger:   o.logger,
	}, nil
}

// HandleTurn processes one inbound message. Only a store failure is
// returned as an error; every other failure yields a well-formed Reply.
func (c *Orchestrator) HandleTurn(ctx context.Context, turn domain.Turn) (domain.Reply, error) {
	return c.runtime.HandleTurn(ctx, turn)
}

// State returns the stored state of a conversation.
func (c *Orchestrator) State(ctx context.Context, key domain.ConversationKey) (*domain.ConversationState, error) {
	return c.sessions.Load(ctx, key)
}

// Transitions returns the audit log of a conversation.
func (c *Orchestrator) Transitions(ctx context.Context, key domain.ConversationKey) ([]domain.TransitionRecord, error) {
	return c.sessions.Transitions(ctx, key)
}

// Reset returns a conversation to START, leaving DONE or HANDOFF.
func (c *Orchestrator) Reset(ctx context.Context, key domain.ConversationKey) (*domain.ConversationState, error) {
	return c.machine.Reset(ctx, key)
}

// Handoff moves a conversation to a human operator.
func (c *Orchestrator) Handoff(ctx context.Context, key domain.ConversationKey, reason string) (*domain.ConversationState, error) {
	state, _, err := c.machine.Apply(ctx, key, domain.EventHandoff, map[string]any{"reason": reason})
	return state, err
}

// Canary returns the live canary configuration.
func (c *Orchestrator) Canary() canary.Config {
	return c.router.Config()
}

// SetCanary swaps the canary configuration. Turns already routed keep their decision.
func (c *Orchestrator) SetCanary(cfg canary.Config) error {
	return c.router.Update(cfg)
}

// Route reports how a conversation would be routed now.
func (c *Orchestrator) Route(conversationID string) domain.RouteDecision {
	return c.router.Decide(conversationID)
}

// Validate checks that every allow-listed tool has a registered target.
func (c *Orchestrator) Validate() error {
	return c.registry.Validate(c.policy.AllToolNames())
}

// Circuit returns the breaker snapshot of a tool target.
func (c *Orchestrator) Circuit(tool string) domain.CircuitState {
	return c.broker.Circuit(tool)
}

// Settings returns the active turn settings.
func (c *Orchestrator) Settings() Settings {
	return c.runtime.Settings()
}

// Policy returns the policy engine.
func (c *Orchestrator) Policy() *policy.Engine {
	return c.policy
}

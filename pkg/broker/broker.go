package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/concierge/internal/logging"
	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/ports"
	"github.com/aretw0/concierge/pkg/registry"
	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("concierge.broker")

var (
	errTransient = errors.New("transient tool failure")
	errPermanent = errors.New("permanent tool failure")
)

// Broker executes tool invocations with idempotency, retry and circuit breaking.
type Broker struct {
	registry *registry.Registry
	cache    ports.ResultCache
	logger   *slog.Logger
	clock    func() time.Time
	hooks    domain.LifecycleHooks

	defaults  TargetConfig
	overrides map[string]TargetConfig

	initialInterval time.Duration
	maxInterval     time.Duration

	mu       sync.Mutex
	circuits map[string]*circuit
	limiters map[string]*limiter

	group singleflight.Group
}

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets the broker logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) {
		b.logger = logger
	}
}

// WithClock sets the time source used by circuit breakers.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) {
		b.clock = now
	}
}

// WithDefaults sets the settings for targets without overrides.
func WithDefaults(cfg TargetConfig) Option {
	return func(b *Broker) {
		b.defaults = cfg.withDefaults(DefaultTargetConfig())
	}
}

// WithTargetConfig overrides the settings of one target.
func WithTargetConfig(name string, cfg TargetConfig) Option {
	return func(b *Broker) {
		b.overrides[name] = cfg
	}
}

// WithBackoff sets the retry interval range.
func WithBackoff(initial, maxInterval time.Duration) Option {
	return func(b *Broker) {
		b.initialInterval = initial
		b.maxInterval = maxInterval
	}
}

// WithHooks registers lifecycle hooks. Only OnToolReturn is used.
func WithHooks(hooks domain.LifecycleHooks) Option {
	return func(b *Broker) {
		b.hooks = hooks
	}
}

// New creates a Broker dispatching through reg and recording outcomes in cache.
func New(reg *registry.Registry, cache ports.ResultCache, opts ...Option) *Broker {
	b := &Broker{
		registry:        reg,
		cache:           cache,
		logger:          logging.NewNop(),
		clock:           time.Now,
		defaults:        DefaultTargetConfig(),
		overrides:       make(map[string]TargetConfig),
		initialInterval: 100 * time.Millisecond,
		maxInterval:     2 * time.Second,
		circuits:        make(map[string]*circuit),
		limiters:        make(map[string]*limiter),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Config returns the effective settings of a target.
func (b *Broker) Config(name string) TargetConfig {
	if cfg, ok := b.overrides[name]; ok {
		return cfg.withDefaults(b.defaults)
	}
	return b.defaults
}

// Circuit returns the breaker snapshot of a target.
func (b *Broker) Circuit(name string) domain.CircuitState {
	return b.circuitFor(name).snapshot()
}

func (b *Broker) circuitFor(name string) *circuit {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.circuits[name]
	if !ok {
		cfg := b.Config(name)
		c = newCircuit(name, cfg.CircuitThreshold, cfg.Cooldown)
		b.circuits[name] = c
	}
	return c
}

func (b *Broker) limiterFor(name string) *limiter {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.limiters[name]
	if !ok {
		l = newLimiter(b.Config(name))
		b.limiters[name] = l
	}
	return l
}

// Execute runs an allowed invocation and returns its result.
//
// A cache hit is returned unchanged with Cached set; Cached is the only
// field that tells a replay from the first delivery. If ctx ends before the
// call completes, Execute returns a failed_transient result with code
// "deadline"; the call keeps running and its outcome is still recorded.
func (b *Broker) Execute(ctx context.Context, inv domain.ToolInvocation) domain.ToolResult {
	ctx, span := tracer.Start(ctx, "broker.execute")
	defer span.End()
	span.SetAttributes(attribute.String("tool", inv.Name), attribute.String("conversation_id", inv.ConversationID))

	if res, ok := b.cached(ctx, inv); ok {
		span.SetAttributes(attribute.Bool("cached", true))
		return res
	}

	work := context.WithoutCancel(ctx)
	ch := b.group.DoChan(inv.IdempotencyKey, func() (any, error) {
		return b.run(work, inv), nil
	})

	select {
	case out := <-ch:
		res := out.Val.(domain.ToolResult)
		span.SetAttributes(attribute.String("status", string(res.Status)), attribute.Int("attempts", res.Attempts))
		if !res.Succeeded() {
			span.SetStatus(codes.Error, string(res.Code()))
		}
		return res
	case <-ctx.Done():
		b.logger.Warn("tool call outlived caller", "tool", inv.Name, "conversation_id", inv.ConversationID, "err", ctx.Err())
		span.SetStatus(codes.Error, string(domain.CodeDeadline))
		return domain.Failed(inv.Name, domain.ToolFailedTransient, domain.CodeDeadline, "the call did not finish in time")
	}
}

// ExecuteAll runs invocations one after another and returns results in input order.
func (b *Broker) ExecuteAll(ctx context.Context, invs []domain.ToolInvocation) []domain.ToolResult {
	results := make([]domain.ToolResult, 0, len(invs))
	for _, inv := range invs {
		results = append(results, b.Execute(ctx, inv))
	}
	return results
}

func (b *Broker) cached(ctx context.Context, inv domain.ToolInvocation) (domain.ToolResult, bool) {
	res, ok, err := b.cache.Get(ctx, inv.IdempotencyKey)
	if err != nil {
		b.logger.Warn("idempotency cache read failed", "tool", inv.Name, "err", err)
		return domain.ToolResult{}, false
	}
	if !ok {
		return domain.ToolResult{}, false
	}
	cacheHits.WithLabelValues(inv.Name).Inc()
	res.Cached = true
	return res, true
}

// run executes inv under the singleflight key.
func (b *Broker) run(ctx context.Context, inv domain.ToolInvocation) domain.ToolResult {
	// A concurrent flight may have finished between the first lookup and now.
	if res, ok := b.cached(ctx, inv); ok {
		return res
	}

	target, err := b.registry.Lookup(inv.Name)
	if err != nil {
		return domain.Failed(inv.Name, domain.ToolFailedPermanent, domain.CodeNotAllowed, err.Error())
	}

	cfg := b.Config(inv.Name)
	breaker := b.circuitFor(inv.Name)
	lim := b.limiterFor(inv.Name)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.initialInterval
	bo.MaxInterval = b.maxInterval
	bo.RandomizationFactor = 0.5
	bo.MaxElapsedTime = 0

	var (
		last     domain.ToolResult
		attempts int
		issued   bool
	)
	op := func() error {
		if !breaker.allow(b.clock()) {
			state := breaker.snapshot()
			cerr := &domain.CircuitOpenError{Target: inv.Name, OpenedAt: state.OpenedAt}
			last = domain.Failed(inv.Name, domain.ToolFailedPermanent, domain.CodeCircuitOpen, cerr.Error())
			issued = false
			return backoff.Permanent(cerr)
		}

		attempts++
		res, fromTarget := b.attempt(ctx, target, lim, inv, cfg, attempts)
		last = res
		issued = fromTarget

		switch res.Status {
		case domain.ToolSucceeded:
			breaker.success()
			return nil
		case domain.ToolFailedTransient:
			// The local limiter refused the call; the target was never reached.
			if res.Code() == domain.CodeRateLimited {
				breaker.release()
				return errTransient
			}
			breaker.failure(b.clock())
			return errTransient
		default:
			if fromTarget {
				breaker.success()
			}
			return backoff.Permanent(errPermanent)
		}
	}

	_ = backoff.Retry(op, backoff.WithMaxRetries(bo, uint64(max(0, cfg.RetryBudget))))
	last.Name = inv.Name
	last.Attempts = attempts

	if last.Succeeded() || (last.Status == domain.ToolFailedPermanent && issued) {
		if err := b.cache.Put(ctx, inv.IdempotencyKey, last); err != nil {
			b.logger.Error("idempotency cache write failed", "tool", inv.Name, "conversation_id", inv.ConversationID, "err", err)
		}
	}

	b.logger.Debug("tool executed",
		"tool", inv.Name,
		"conversation_id", inv.ConversationID,
		"status", last.Status,
		"attempts", attempts,
	)
	return last
}

// attempt performs one call. fromTarget reports whether the target itself
// issued the outcome.
func (b *Broker) attempt(ctx context.Context, target ports.ToolTarget, lim *limiter, inv domain.ToolInvocation, cfg TargetConfig, n int) (res domain.ToolResult, fromTarget bool) {
	actx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		toolAttempts.WithLabelValues(inv.Name, string(res.Status)).Inc()
		toolDuration.WithLabelValues(inv.Name).Observe(elapsed.Seconds())
		if b.hooks.OnToolReturn != nil {
			b.hooks.OnToolReturn(ctx, domain.ToolEvent{
				Timestamp:      b.clock(),
				ConversationID: inv.ConversationID,
				ToolName:       inv.Name,
				Attempt:        n,
				Status:         res.Status,
				Duration:       elapsed,
			})
		}
	}()

	release, err := lim.acquire(actx)
	if err != nil {
		return domain.Failed(inv.Name, domain.ToolFailedTransient, domain.CodeRateLimited, err.Error()), false
	}
	defer release()

	resp, err := target.Invoke(actx, ports.RequestFor(inv))
	if err != nil {
		return classify(actx, inv.Name, err), isPermanent(err)
	}

	switch resp.Status {
	case domain.ToolSucceeded, "":
		return domain.ToolResult{Name: inv.Name, Status: domain.ToolSucceeded, Payload: resp.Payload}, true
	case domain.ToolFailedTransient:
		return domain.Failed(inv.Name, domain.ToolFailedTransient, domain.CodeToolTransient, resp.Error), true
	case domain.ToolDenied:
		res := domain.Failed(inv.Name, domain.ToolFailedPermanent, domain.CodeNotAllowed, resp.Error)
		res.Payload = resp.Payload
		return res, true
	default:
		res := domain.Failed(inv.Name, domain.ToolFailedPermanent, domain.CodeToolPermanent, resp.Error)
		res.Payload = resp.Payload
		return res, true
	}
}

// classify maps a transport error to a result. Deadlines are transient.
func classify(actx context.Context, name string, err error) domain.ToolResult {
	if errors.Is(err, context.DeadlineExceeded) || actx.Err() != nil {
		return domain.Failed(name, domain.ToolFailedTransient, domain.CodeTimeout, fmt.Sprintf("attempt timed out: %v", err))
	}
	if isPermanent(err) {
		return domain.Failed(name, domain.ToolFailedPermanent, domain.CodeToolPermanent, err.Error())
	}
	return domain.Failed(name, domain.ToolFailedTransient, domain.CodeToolTransient, err.Error())
}

func isPermanent(err error) bool {
	var te *domain.ToolExecutionError
	return errors.As(err, &te) && !te.Transient
}

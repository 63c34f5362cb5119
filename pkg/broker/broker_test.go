package broker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/concierge/pkg/adapters/memory"
	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/ports"
	"github.com/aretw0/concierge/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = domain.ConversationKey{WorkspaceID: "ws-1", ConversationID: "conv-1"}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// scriptedTarget answers with the given statuses in order, then repeats the last one.
type scriptedTarget struct {
	mu       sync.Mutex
	script   []domain.ToolStatus
	calls    int
	effects  int
	keysSeen []string
}

func (s *scriptedTarget) Invoke(ctx context.Context, req ports.ToolRequest) (ports.ToolResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := s.script[min(s.calls, len(s.script)-1)]
	s.calls++
	s.keysSeen = append(s.keysSeen, req.IdempotencyKey)
	if status == domain.ToolSucceeded {
		s.effects++
		return ports.ToolResponse{Status: status, Payload: map[string]any{"booking_id": "B-1"}}, nil
	}
	return ports.ToolResponse{Status: status, Error: "upstream said no"}, nil
}

func (s *scriptedTarget) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestBroker(t *testing.T, target ports.ToolTarget, cfg TargetConfig, opts ...Option) (*Broker, *memory.ResultCache) {
	t.Helper()
	reg := registry.NewRegistry()
	reg.Register("create_booking", target)
	cache := memory.NewResultCache()
	base := []Option{
		WithDefaults(cfg),
		WithBackoff(time.Millisecond, 2*time.Millisecond),
	}
	return New(reg, cache, append(base, opts...)...), cache
}

func invocation(args map[string]any) domain.ToolInvocation {
	return domain.NewInvocation(testKey, 0, "create_booking", args)
}

func TestExecute_IdempotentReplay(t *testing.T) {
	target := &scriptedTarget{script: []domain.ToolStatus{domain.ToolSucceeded}}
	b, _ := newTestBroker(t, target, DefaultTargetConfig())
	inv := invocation(map[string]any{"date": "2026-10-15", "time": "10:00"})

	first := b.Execute(context.Background(), inv)
	second := b.Execute(context.Background(), inv)

	assert.True(t, first.Succeeded())
	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Payload, second.Payload)
	assert.Equal(t, first.Attempts, second.Attempts)
	assert.Equal(t, 1, target.Calls(), "side effect must happen once")

	replay := second
	replay.Cached = false
	assert.Equal(t, first, replay, "a replay differs from the original only in Cached")
}

func TestExecute_RetriesTransientThenSucceeds(t *testing.T) {
	target := &scriptedTarget{script: []domain.ToolStatus{
		domain.ToolFailedTransient,
		domain.ToolFailedTransient,
		domain.ToolFailedTransient,
		domain.ToolSucceeded,
	}}
	cfg := DefaultTargetConfig()
	cfg.RetryBudget = 3
	b, _ := newTestBroker(t, target, cfg)
	inv := invocation(map[string]any{"date": "2026-10-15"})

	res := b.Execute(context.Background(), inv)

	assert.Equal(t, domain.ToolSucceeded, res.Status)
	assert.Equal(t, 4, res.Attempts)
	assert.Equal(t, 1, target.effects, "only one external side effect")
	for _, k := range target.keysSeen {
		assert.Equal(t, inv.IdempotencyKey, k, "every attempt carries the same key")
	}

	again := b.Execute(context.Background(), inv)
	assert.True(t, again.Cached)
	assert.Equal(t, 4, target.Calls())
}

func TestExecute_PermanentNotRetried(t *testing.T) {
	target := &scriptedTarget{script: []domain.ToolStatus{domain.ToolFailedPermanent}}
	b, _ := newTestBroker(t, target, DefaultTargetConfig())
	inv := invocation(nil)

	res := b.Execute(context.Background(), inv)
	assert.Equal(t, domain.ToolFailedPermanent, res.Status)
	assert.Equal(t, domain.CodeToolPermanent, res.Code())
	assert.Equal(t, 1, res.Attempts)

	// Target-issued permanent outcomes are replayed.
	again := b.Execute(context.Background(), inv)
	assert.True(t, again.Cached)
	assert.Equal(t, 1, target.Calls())
}

func TestExecute_ExhaustedTransientNotCached(t *testing.T) {
	target := &scriptedTarget{script: []domain.ToolStatus{domain.ToolFailedTransient}}
	cfg := DefaultTargetConfig()
	cfg.RetryBudget = 2
	cfg.CircuitThreshold = 0
	b, cache := newTestBroker(t, target, cfg)
	inv := invocation(nil)

	res := b.Execute(context.Background(), inv)
	assert.Equal(t, domain.ToolFailedTransient, res.Status)
	assert.Equal(t, domain.CodeToolTransient, res.Code())
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 0, cache.Len())

	b.Execute(context.Background(), inv)
	assert.Equal(t, 6, target.Calls(), "a later turn may retry")
}

func TestExecute_TimeoutIsTransient(t *testing.T) {
	slow := ports.ToolTargetFunc(func(ctx context.Context, req ports.ToolRequest) (ports.ToolResponse, error) {
		<-ctx.Done()
		return ports.ToolResponse{}, ctx.Err()
	})
	cfg := DefaultTargetConfig()
	cfg.RetryBudget = 1
	cfg.Timeout = 10 * time.Millisecond
	b, _ := newTestBroker(t, slow, cfg)

	res := b.Execute(context.Background(), invocation(nil))
	assert.Equal(t, domain.ToolFailedTransient, res.Status)
	assert.Equal(t, domain.CodeTimeout, res.Code())
	assert.Equal(t, 2, res.Attempts)
}

func TestExecute_TransportErrors(t *testing.T) {
	var calls atomic.Int32
	target := ports.ToolTargetFunc(func(ctx context.Context, req ports.ToolRequest) (ports.ToolResponse, error) {
		if calls.Add(1) == 1 {
			return ports.ToolResponse{}, errors.New("connection reset")
		}
		return ports.ToolResponse{}, &domain.ToolExecutionError{Tool: req.Name, Transient: false, Err: errors.New("400 bad request")}
	})
	b, _ := newTestBroker(t, target, DefaultTargetConfig())

	res := b.Execute(context.Background(), invocation(nil))
	assert.Equal(t, domain.ToolFailedPermanent, res.Status)
	assert.Equal(t, 2, res.Attempts)
}

func TestExecute_UnknownTool(t *testing.T) {
	b, _ := newTestBroker(t, &scriptedTarget{script: []domain.ToolStatus{domain.ToolSucceeded}}, DefaultTargetConfig())
	res := b.Execute(context.Background(), domain.NewInvocation(testKey, 0, "teleport", nil))
	assert.Equal(t, domain.ToolFailedPermanent, res.Status)
	assert.Equal(t, domain.CodeNotAllowed, res.Code())
}

func TestCircuit_OpensAndProbes(t *testing.T) {
	clock := newFakeClock()
	target := &scriptedTarget{script: []domain.ToolStatus{domain.ToolFailedTransient}}
	cfg := DefaultTargetConfig()
	cfg.RetryBudget = 0
	cfg.CircuitThreshold = 2
	cfg.Cooldown = time.Minute
	b, cache := newTestBroker(t, target, cfg, WithClock(clock.Now))
	ctx := context.Background()

	b.Execute(ctx, invocation(map[string]any{"n": 1}))
	b.Execute(ctx, invocation(map[string]any{"n": 2}))
	assert.Equal(t, domain.CircuitOpen, b.Circuit("create_booking").Phase)

	res := b.Execute(ctx, invocation(map[string]any{"n": 3}))
	assert.Equal(t, domain.ToolFailedPermanent, res.Status)
	assert.Equal(t, domain.CodeCircuitOpen, res.Code())
	assert.Equal(t, 0, res.Attempts)
	assert.Equal(t, 2, target.Calls(), "open circuit must not invoke the target")
	assert.Equal(t, 0, cache.Len(), "circuit_open is never cached")

	// Probe failure re-opens and restarts the cool-down.
	clock.Advance(time.Minute)
	b.Execute(ctx, invocation(map[string]any{"n": 4}))
	assert.Equal(t, 3, target.Calls())
	state := b.Circuit("create_booking")
	assert.Equal(t, domain.CircuitOpen, state.Phase)
	assert.Equal(t, clock.Now(), state.OpenedAt)

	// Probe success closes.
	target.mu.Lock()
	target.script = []domain.ToolStatus{domain.ToolSucceeded}
	target.calls = 0
	target.mu.Unlock()
	clock.Advance(time.Minute)
	res = b.Execute(ctx, invocation(map[string]any{"n": 5}))
	assert.True(t, res.Succeeded())
	assert.Equal(t, domain.CircuitClosed, b.Circuit("create_booking").Phase)
}

func TestCircuit_SingleProbe(t *testing.T) {
	clock := newFakeClock()
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	target := ports.ToolTargetFunc(func(ctx context.Context, req ports.ToolRequest) (ports.ToolResponse, error) {
		if calls.Add(1) == 1 {
			return ports.ToolResponse{Status: domain.ToolFailedTransient}, nil
		}
		close(entered)
		<-release
		return ports.ToolResponse{Status: domain.ToolSucceeded}, nil
	})
	cfg := DefaultTargetConfig()
	cfg.RetryBudget = 0
	cfg.CircuitThreshold = 1
	cfg.Cooldown = time.Second
	b, _ := newTestBroker(t, target, cfg, WithClock(clock.Now))
	ctx := context.Background()

	b.Execute(ctx, invocation(map[string]any{"n": 1}))
	require.Equal(t, domain.CircuitOpen, b.Circuit("create_booking").Phase)
	clock.Advance(time.Second)

	done := make(chan domain.ToolResult)
	go func() { done <- b.Execute(ctx, invocation(map[string]any{"n": 2})) }()
	<-entered

	res := b.Execute(ctx, invocation(map[string]any{"n": 3}))
	assert.Equal(t, domain.CodeCircuitOpen, res.Code(), "callers during the probe fail fast")

	close(release)
	probe := <-done
	assert.True(t, probe.Succeeded())
	assert.Equal(t, domain.CircuitClosed, b.Circuit("create_booking").Phase)
}

func TestCircuit_PermanentFailuresDoNotCount(t *testing.T) {
	target := &scriptedTarget{script: []domain.ToolStatus{domain.ToolFailedPermanent}}
	cfg := DefaultTargetConfig()
	cfg.CircuitThreshold = 1
	b, _ := newTestBroker(t, target, cfg)

	for i := 0; i < 3; i++ {
		b.Execute(context.Background(), invocation(map[string]any{"n": i}))
	}
	assert.Equal(t, domain.CircuitClosed, b.Circuit("create_booking").Phase)
	assert.Equal(t, 3, target.Calls())
}

func TestCircuit_RateLimitDoesNotCount(t *testing.T) {
	clock := newFakeClock()
	target := &scriptedTarget{script: []domain.ToolStatus{domain.ToolFailedTransient, domain.ToolSucceeded}}
	cfg := DefaultTargetConfig()
	cfg.RetryBudget = 0
	cfg.CircuitThreshold = 1
	cfg.Cooldown = time.Second
	cfg.QPS = 0.01
	cfg.Burst = 1
	cfg.Timeout = 50 * time.Millisecond
	b, _ := newTestBroker(t, target, cfg, WithClock(clock.Now))
	ctx := context.Background()

	// The only token goes to a failing call, which opens the circuit.
	b.Execute(ctx, invocation(map[string]any{"n": 1}))
	require.Equal(t, domain.CircuitOpen, b.Circuit("create_booking").Phase)
	clock.Advance(time.Second)

	// Throttled probes never reach the target and do not hold the probe slot.
	for i := 2; i <= 3; i++ {
		res := b.Execute(ctx, invocation(map[string]any{"n": i}))
		assert.Equal(t, domain.CodeRateLimited, res.Code())
		assert.Equal(t, domain.CircuitHalfOpen, b.Circuit("create_booking").Phase)
	}
	assert.Equal(t, 1, target.Calls())
}

func TestCircuit_ClosedUnderThrottling(t *testing.T) {
	target := &scriptedTarget{script: []domain.ToolStatus{domain.ToolSucceeded}}
	cfg := DefaultTargetConfig()
	cfg.RetryBudget = 0
	cfg.CircuitThreshold = 1
	cfg.QPS = 0.01
	cfg.Burst = 1
	cfg.Timeout = 50 * time.Millisecond
	b, _ := newTestBroker(t, target, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.Execute(ctx, invocation(map[string]any{"n": i}))
	}
	state := b.Circuit("create_booking")
	assert.Equal(t, domain.CircuitClosed, state.Phase)
	assert.Zero(t, state.ConsecutiveFailures)
	assert.Equal(t, 1, target.Calls())
}

func TestExecute_CallerDeadlineDetaches(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	target := ports.ToolTargetFunc(func(ctx context.Context, req ports.ToolRequest) (ports.ToolResponse, error) {
		calls.Add(1)
		<-release
		return ports.ToolResponse{Status: domain.ToolSucceeded, Payload: map[string]any{"booking_id": "B-9"}}, nil
	})
	b, cache := newTestBroker(t, target, DefaultTargetConfig())
	inv := invocation(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	res := b.Execute(ctx, inv)
	assert.Equal(t, domain.ToolFailedTransient, res.Status)
	assert.Equal(t, domain.CodeDeadline, res.Code())

	close(release)
	require.Eventually(t, func() bool { return cache.Len() == 1 }, time.Second, 5*time.Millisecond)

	replay := b.Execute(context.Background(), inv)
	assert.True(t, replay.Cached)
	assert.Equal(t, "B-9", replay.Payload["booking_id"])
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecute_ConcurrentCallersCollapse(t *testing.T) {
	var calls atomic.Int32
	target := ports.ToolTargetFunc(func(ctx context.Context, req ports.ToolRequest) (ports.ToolResponse, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return ports.ToolResponse{Status: domain.ToolSucceeded}, nil
	})
	b, _ := newTestBroker(t, target, DefaultTargetConfig())
	inv := invocation(map[string]any{"date": "2026-10-15"})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := b.Execute(context.Background(), inv)
			assert.True(t, res.Succeeded())
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecuteAll_Order(t *testing.T) {
	reg := registry.NewRegistry()
	for _, name := range []string{"a", "b", "c"} {
		reg.RegisterFunc(name, func(ctx context.Context, req ports.ToolRequest) (ports.ToolResponse, error) {
			return ports.ToolResponse{Status: domain.ToolSucceeded, Payload: map[string]any{"tool": req.Name}}, nil
		})
	}
	b := New(reg, memory.NewResultCache())

	results := b.ExecuteAll(context.Background(), []domain.ToolInvocation{
		domain.NewInvocation(testKey, 0, "c", nil),
		domain.NewInvocation(testKey, 0, "a", nil),
		domain.NewInvocation(testKey, 0, "b", nil),
	})
	require.Len(t, results, 3)
	assert.Equal(t, "c", results[0].Payload["tool"])
	assert.Equal(t, "a", results[1].Payload["tool"])
	assert.Equal(t, "b", results[2].Payload["tool"])
}

func TestExecute_ToolReturnHook(t *testing.T) {
	target := &scriptedTarget{script: []domain.ToolStatus{domain.ToolFailedTransient, domain.ToolSucceeded}}
	var events []domain.ToolEvent
	var mu sync.Mutex
	hooks := domain.LifecycleHooks{OnToolReturn: func(ctx context.Context, ev domain.ToolEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}}
	b, _ := newTestBroker(t, target, DefaultTargetConfig(), WithHooks(hooks))

	b.Execute(context.Background(), invocation(nil))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].Attempt)
	assert.Equal(t, domain.ToolFailedTransient, events[0].Status)
	assert.Equal(t, 2, events[1].Attempt)
	assert.Equal(t, domain.ToolSucceeded, events[1].Status)
}

func TestTargetConfig_Overrides(t *testing.T) {
	override := TargetConfig{RetryBudget: 1}
	b := New(registry.NewRegistry(), memory.NewResultCache(), WithTargetConfig("slow", override))

	cfg := b.Config("slow")
	assert.Equal(t, 1, cfg.RetryBudget)
	assert.Equal(t, DefaultTargetConfig().Timeout, cfg.Timeout)
	assert.Equal(t, DefaultTargetConfig(), b.Config("other"))
}

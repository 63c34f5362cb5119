package dialogue

import (
	"context"
	"log/slog"
	"time"

	"github.com/aretw0/concierge/internal/logging"
	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/session"
)

// Machine applies out-of-band events (operator handoff, external
// confirmation, reset) to stored conversations.
type Machine struct {
	sessions *session.Manager
	hooks    domain.LifecycleHooks
	clock    func() time.Time
	logger   *slog.Logger
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithHooks registers lifecycle hooks. OnTransition runs after each commit.
func WithHooks(hooks domain.LifecycleHooks) MachineOption {
	return func(m *Machine) {
		m.hooks = hooks
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) MachineOption {
	return func(m *Machine) {
		m.clock = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) MachineOption {
	return func(m *Machine) {
		m.logger = logger
	}
}

// NewMachine creates a Machine over the session manager.
func NewMachine(sessions *session.Manager, opts ...MachineOption) *Machine {
	m := &Machine{
		sessions: sessions,
		clock:    time.Now,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Apply fires a single event atomically: load, fire, compare-and-swap and
// append all happen inside the conversation's exclusive section.
func (m *Machine) Apply(ctx context.Context, key domain.ConversationKey, event domain.Event, payload map[string]any) (*domain.ConversationState, domain.TransitionRecord, error) {
	var (
		committed *domain.ConversationState
		rec       domain.TransitionRecord
	)
	err := m.sessions.WithLock(ctx, key, func(ctx context.Context) error {
		current, err := m.sessions.Store().Load(ctx, key)
		if err != nil {
			return err
		}
		var next *domain.ConversationState
		next, rec = Fire(current, event, payload, m.clock())
		committed, err = m.sessions.Store().CompareAndSwap(ctx, next, current.Version)
		if err != nil {
			return err
		}
		return m.sessions.Store().Append(ctx, rec)
	})
	if err != nil {
		return nil, rec, err
	}

	m.logger.Info("event applied",
		"workspace_id", key.WorkspaceID,
		"conversation_id", key.ConversationID,
		"event", event,
		"accepted", rec.Accepted,
		"state", committed.FSMState,
	)
	if m.hooks.OnTransition != nil {
		m.hooks.OnTransition(ctx, rec)
	}
	return committed, rec, nil
}

// Reset re-initializes a conversation to START so automation can resume
// after DONE or HANDOFF.
func (m *Machine) Reset(ctx context.Context, key domain.ConversationKey) (*domain.ConversationState, error) {
	state, _, err := m.Apply(ctx, key, domain.EventReset, nil)
	return state, err
}

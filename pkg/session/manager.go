package session

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
)

// DefaultLockTTL bounds how long a distributed lock survives a crashed holder.
const DefaultLockTTL = 30 * time.Second

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager provides the per-conversation exclusive section around state reads
// and commits. It uses reference counting to garbage collect unused locks.
type Manager struct {
	store ports.ConversationStore

	mu    sync.Mutex                            // Global lock for the map
	locks map[domain.ConversationKey]*lockEntry // Map of active locks

	locker  ports.DistributedLocker // Optional distributed locker
	lockTTL time.Duration
	logger  *slog.Logger // Logger for internal events (like deferred errors)
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the distributed lock expiry.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a new Manager over the given store.
func NewManager(store ports.ConversationStore, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[domain.ConversationKey]*lockEntry),
		lockTTL: DefaultLockTTL,
		logger:  logging.NewNop(), // Default to no-op
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(key) after unlocking.
func (m *Manager) acquire(key domain.ConversationKey) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[key]
	if !exists {
		entry = &lockEntry{}
		m.locks[key] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(key domain.ConversationKey) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[key]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, key)
	}
}

// Load retrieves an existing conversation from the store.
func (m *Manager) Load(ctx context.Context, key domain.ConversationKey) (*domain.ConversationState, error) {
	var state *domain.ConversationState
	err := m.WithLock(ctx, key, func(ctx context.Context) error {
		var err error
		state, err = m.store.Load(ctx, key)
		return err
	})
	return state, err
}

// LoadOrNew loads a conversation, or returns a fresh START snapshot with
// version zero when none was committed yet. The fresh snapshot is not persisted.
func (m *Manager) LoadOrNew(ctx context.Context, key domain.ConversationKey, now time.Time) (*domain.ConversationState, error) {
	var state *domain.ConversationState
	err := m.WithLock(ctx, key, func(ctx context.Context) error {
		var err error
		state, err = m.store.Load(ctx, key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrConversationNotFound) {
			return fmt.Errorf("failed to load conversation: %w", err)
		}
		state = domain.NewState(key, now)
		return nil
	})
	return state, err
}

// Commit compare-and-swaps next against expectedVersion and appends the
// records, all inside the exclusive section.
//
// The swap and the appends are not atomic. If an append fails after the
// swap, the committed state is still returned together with an error
// wrapping domain.ErrTransitionsLost.
func (m *Manager) Commit(ctx context.Context, next *domain.ConversationState, expectedVersion int64, records ...domain.TransitionRecord) (*domain.ConversationState, error) {
	var committed *domain.ConversationState
	err := m.WithLock(ctx, next.Key(), func(ctx context.Context) error {
		var err error
		committed, err = m.store.CompareAndSwap(ctx, next, expectedVersion)
		if err != nil {
			return err
		}
		var (
			lost     int
			firstErr error
		)
		for _, rec := range records {
			if err := m.store.Append(ctx, rec); err != nil {
				lost++
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		if lost == 0 {
			return nil
		}
		m.logger.Error("transition records lost after commit",
			"workspace_id", next.WorkspaceID,
			"conversation_id", next.ConversationID,
			"version", committed.Version,
			"lost", lost,
			"err", firstErr,
		)
		return fmt.Errorf("%w: %d of %d: %w", domain.ErrTransitionsLost, lost, len(records), firstErr)
	})
	return committed, err
}

// Transitions delegates to the store.
func (m *Manager) Transitions(ctx context.Context, key domain.ConversationKey) ([]domain.TransitionRecord, error) {
	return m.store.Transitions(ctx, key)
}

// Store returns the underlying conversation store.
func (m *Manager) Store() ports.ConversationStore {
	return m.store
}

// WithLock executes a function while holding the lock for the conversation.
func (m *Manager) WithLock(ctx context.Context, key domain.ConversationKey, fn func(context.Context) error) error {
	entry := m.acquire(key)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(key)
	}()

	// Distributed Locking
	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, key.String(), m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"workspace_id", key.WorkspaceID,
					"conversation_id", key.ConversationID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}

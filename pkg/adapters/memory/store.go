package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/aretw0/concierge/pkg/domain"
)

// Store implements ports.ConversationStore in memory.
// Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	data    map[domain.ConversationKey]*domain.ConversationState
	records map[domain.ConversationKey][]domain.TransitionRecord
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data:    make(map[domain.ConversationKey]*domain.ConversationState),
		records: make(map[domain.ConversationKey][]domain.TransitionRecord),
	}
}

// Load retrieves the state from memory.
func (s *Store) Load(ctx context.Context, key domain.ConversationKey) (*domain.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.data[key]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	// Copy on read so callers can't mutate store state through the pointer.
	return state.Clone(), nil
}

// CompareAndSwap commits next when the stored version matches expectedVersion.
func (s *Store) CompareAndSwap(ctx context.Context, next *domain.ConversationState, expectedVersion int64) (*domain.ConversationState, error) {
	key := next.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if state, ok := s.data[key]; ok {
		current = state.Version
	}
	if current != expectedVersion {
		return nil, &domain.ConflictError{Key: key, ExpectedVersion: expectedVersion}
	}

	committed := next.Clone()
	committed.Version = expectedVersion + 1
	s.data[key] = committed
	return committed.Clone(), nil
}

// Append adds a record to the conversation log.
func (s *Store) Append(ctx context.Context, record domain.TransitionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := record.Key()
	s.records[key] = append(s.records[key], record)
	return nil
}

// Transitions returns a copy of the conversation log.
func (s *Store) Transitions(ctx context.Context, key domain.ConversationKey) ([]domain.TransitionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.records[key]), nil
}

// List returns the conversation ids of a workspace, sorted.
func (s *Store) List(ctx context.Context, workspaceID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0)
	for key := range s.data {
		if key.WorkspaceID == workspaceID {
			ids = append(ids, key.ConversationID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

package session_test

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
	"github.com/aretw0/concierge/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var key = domain.ConversationKey{WorkspaceID: "ws", ConversationID: "race-test"}

// slowStore simulates latency to provoke race conditions if locking is missing.
type slowStore struct {
	*memory.Store
	inside  atomic.Int32
	overlap atomic.Bool
}

func (s *slowStore) Load(ctx context.Context, k domain.ConversationKey) (*domain.ConversationState, error) {
	if s.inside.Add(1) > 1 {
		s.overlap.Store(true)
	}
	defer s.inside.Add(-1)
	time.Sleep(5 * time.Millisecond) // Simulate IO
	return s.Store.Load(ctx, k)
}

func TestManager_SerializesSection(t *testing.T) {
	store := &slowStore{Store: memory.NewStore()}
	manager := session.NewManager(store)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := manager.LoadOrNew(ctx, key, time.Now())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.False(t, store.overlap.Load(), "loads for one conversation must not overlap")
}

func TestManager_LoadOrNewAndCommit(t *testing.T) {
	manager := session.NewManager(memory.NewStore())
	ctx := context.Background()

	fresh, err := manager.LoadOrNew(ctx, key, time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.StateStart, fresh.FSMState)
	assert.Equal(t, int64(0), fresh.Version)

	_, err = manager.Load(ctx, key)
	assert.ErrorIs(t, err, domain.ErrConversationNotFound, "fresh snapshots are not persisted")

	next := fresh.Clone()
	next.FSMState = domain.StateCollecting
	rec := domain.TransitionRecord{ID: "r1", WorkspaceID: key.WorkspaceID, ConversationID: key.ConversationID, Event: domain.EventUserMsg, Accepted: true}
	committed, err := manager.Commit(ctx, next, fresh.Version, rec)
	require.NoError(t, err)
	assert.Equal(t, int64(1), committed.Version)

	records, err := manager.Transitions(ctx, key)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	// A stale commit conflicts and appends nothing.
	_, err = manager.Commit(ctx, next, fresh.Version, rec)
	var conflict *domain.ConflictError
	assert.ErrorAs(t, err, &conflict)
	records, _ = manager.Transitions(ctx, key)
	assert.Len(t, records, 1)
}

type countingLocker struct {
	locks   atomic.Int32
	unlocks atomic.Int32
	fail    bool
}

func (l *countingLocker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	if l.fail {
		return nil, errors.New("redis down")
	}
	l.locks.Add(1)
	return func(ctx context.Context) error {
		l.unlocks.Add(1)
		return nil
	}, nil
}

func TestManager_DistributedLocker(t *testing.T) {
	locker := &countingLocker{}
	manager := session.NewManager(memory.NewStore(), session.WithLocker(locker), session.WithLockTTL(time.Second))

	_, err := manager.LoadOrNew(context.Background(), key, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int32(1), locker.locks.Load())
	assert.Equal(t, int32(1), locker.unlocks.Load())

	locker.fail = true
	err = manager.WithLock(context.Background(), key, func(ctx context.Context) error {
		t.Fatal("section must not run without the lock")
		return nil
	})
	assert.ErrorContains(t, err, "failed to acquire distributed lock")
}

// appendFailingStore commits state but refuses transition records.
type appendFailingStore struct {
	*memory.Store
}

func (appendFailingStore) Append(ctx context.Context, rec domain.TransitionRecord) error {
	return errors.New("audit log unavailable")
}

func TestManager_CommitReportsLostTransitions(t *testing.T) {
	store := appendFailingStore{Store: memory.NewStore()}
	manager := session.NewManager(store)
	ctx := context.Background()

	next := domain.NewState(key, time.Now())
	next.FSMState = domain.StateCollecting
	rec := domain.TransitionRecord{ID: "r1", WorkspaceID: key.WorkspaceID, ConversationID: key.ConversationID, Event: domain.EventUserMsg, Accepted: true}

	committed, err := manager.Commit(ctx, next, 0, rec, rec)
	require.ErrorIs(t, err, domain.ErrTransitionsLost)
	assert.Contains(t, err.Error(), "2 of 2")
	require.NotNil(t, committed)
	assert.Equal(t, int64(1), committed.Version)

	loaded, err := manager.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCollecting, loaded.FSMState, "the state write is kept")
}

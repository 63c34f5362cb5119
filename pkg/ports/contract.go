package ports

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunConversationStoreContract runs a suite of tests to verify that a
// ConversationStore implementation adheres to the defined interface contract.
func RunConversationStoreContract(t *testing.T, store ConversationStore) {
	ctx := context.Background()
	newKey := func() domain.ConversationKey {
		return domain.ConversationKey{WorkspaceID: "contract-ws", ConversationID: "conv-" + uuid.NewString()}
	}

	t.Run("Create and Load", func(t *testing.T) {
		key := newKey()
		state := domain.NewState(key, time.Now().UTC())
		state.Intent = "book"
		state.Slots[domain.SlotService] = domain.Slot{Value: "haircut", Source: domain.SourceUser}
		state.Meta[domain.MetaFallbacks] = 2

		committed, err := store.CompareAndSwap(ctx, state, 0)
		require.NoError(t, err, "CompareAndSwap should not return error")
		assert.Equal(t, int64(1), committed.Version)

		loaded, err := store.Load(ctx, key)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, int64(1), loaded.Version)
		assert.Equal(t, domain.StateStart, loaded.FSMState)
		assert.Equal(t, "book", loaded.Intent)
		assert.Equal(t, "haircut", loaded.Slots[domain.SlotService].Value)
		assert.Equal(t, domain.SourceUser, loaded.Slots[domain.SlotService].Source)
		// JSON persistence turns ints into float64; MetaInt reads both.
		assert.Equal(t, 2, loaded.MetaInt(domain.MetaFallbacks))
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, newKey())
		assert.ErrorIs(t, err, domain.ErrConversationNotFound)
	})

	t.Run("Stale Version Conflicts", func(t *testing.T) {
		key := newKey()
		first, err := store.CompareAndSwap(ctx, domain.NewState(key, time.Now()), 0)
		require.NoError(t, err)

		next := first.Clone()
		next.FSMState = domain.StateCollecting
		_, err = store.CompareAndSwap(ctx, next, first.Version)
		require.NoError(t, err)

		stale := first.Clone()
		stale.FSMState = domain.StateHandoff
		_, err = store.CompareAndSwap(ctx, stale, first.Version)
		assert.ErrorIs(t, err, domain.ErrConflict)

		var conflict *domain.ConflictError
		assert.ErrorAs(t, err, &conflict)

		loaded, err := store.Load(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, domain.StateCollecting, loaded.FSMState, "stale write must not be committed")
		assert.Equal(t, int64(2), loaded.Version)
	})

	t.Run("Double Create Conflicts", func(t *testing.T) {
		key := newKey()
		_, err := store.CompareAndSwap(ctx, domain.NewState(key, time.Now()), 0)
		require.NoError(t, err)
		_, err = store.CompareAndSwap(ctx, domain.NewState(key, time.Now()), 0)
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("Concurrent Writers Single Winner", func(t *testing.T) {
		key := newKey()
		base, err := store.CompareAndSwap(ctx, domain.NewState(key, time.Now()), 0)
		require.NoError(t, err)

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				next := base.Clone()
				next.Intent = "writer"
				if _, err := store.CompareAndSwap(ctx, next, base.Version); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins, "exactly one writer must win a version")
	})

	t.Run("Append and Transitions", func(t *testing.T) {
		key := newKey()
		for i, ev := range []domain.Event{domain.EventUserMsg, domain.EventToolResult, domain.EventConfirmOK} {
			err := store.Append(ctx, domain.TransitionRecord{
				ID:             uuid.NewString(),
				WorkspaceID:    key.WorkspaceID,
				ConversationID: key.ConversationID,
				Event:          ev,
				PreviousState:  domain.StateCollecting,
				NewState:       domain.StateCollecting,
				Accepted:       i != 2,
				Timestamp:      time.Now().UTC(),
			})
			require.NoError(t, err)
		}

		records, err := store.Transitions(ctx, key)
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, domain.EventUserMsg, records[0].Event)
		assert.Equal(t, domain.EventToolResult, records[1].Event)
		assert.Equal(t, domain.EventConfirmOK, records[2].Event)
		assert.False(t, records[2].Accepted)
	})

	t.Run("Transitions Empty", func(t *testing.T) {
		records, err := store.Transitions(ctx, newKey())
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}

// RunResultCacheContract verifies a ResultCache implementation.
func RunResultCacheContract(t *testing.T, cache ResultCache) {
	ctx := context.Background()

	t.Run("Miss", func(t *testing.T) {
		_, ok, err := cache.Get(ctx, "missing-"+uuid.NewString())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Put and Get", func(t *testing.T) {
		key := "key-" + uuid.NewString()
		result := domain.ToolResult{
			Name:     "create_booking",
			Status:   domain.ToolSucceeded,
			Payload:  map[string]any{"booking_id": "B-1"},
			Attempts: 2,
		}
		require.NoError(t, cache.Put(ctx, key, result))

		got, ok, err := cache.Get(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, domain.ToolSucceeded, got.Status)
		assert.Equal(t, "B-1", got.Payload["booking_id"])
		assert.Equal(t, 2, got.Attempts)
	})

	t.Run("Permanent Failure Round Trip", func(t *testing.T) {
		key := "key-" + uuid.NewString()
		require.NoError(t, cache.Put(ctx, key, domain.Failed("create_booking", domain.ToolFailedPermanent, domain.CodeToolPermanent, "slot taken")))

		got, ok, err := cache.Get(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, domain.CodeToolPermanent, got.Code())
	})
}

// RunQuotaCounterContract verifies a QuotaCounter implementation.
func RunQuotaCounterContract(t *testing.T, counter QuotaCounter) {
	ctx := context.Background()
	key := QuotaKey{WorkspaceID: "ws-" + uuid.NewString(), Class: "booking"}

	usage, err := counter.Usage(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 0, usage)

	for i := 1; i <= 3; i++ {
		n, err := counter.Incr(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	usage, err = counter.Usage(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 3, usage)

	other, err := counter.Usage(ctx, QuotaKey{WorkspaceID: key.WorkspaceID, Class: "search"})
	require.NoError(t, err)
	assert.Equal(t, 0, other, "classes are counted independently")
}

package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/concierge/pkg/adapters/memory"
	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	store := memory.NewStore()
	ports.RunConversationStoreContract(t, store)
}

func TestMemoryResultCache_Contract(t *testing.T) {
	ports.RunResultCacheContract(t, memory.NewResultCache())
}

func TestMemoryQuotaCounter_Contract(t *testing.T) {
	ports.RunQuotaCounterContract(t, memory.NewQuotaCounter(time.Hour))
}

func TestMemoryStore_List(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	for _, id := range []string{"b", "a"} {
		_, err := store.CompareAndSwap(ctx, domain.NewState(domain.ConversationKey{WorkspaceID: "ws", ConversationID: id}, time.Now()), 0)
		require.NoError(t, err)
	}
	_, err := store.CompareAndSwap(ctx, domain.NewState(domain.ConversationKey{WorkspaceID: "other", ConversationID: "c"}, time.Now()), 0)
	require.NoError(t, err)

	ids, err := store.List(ctx, "ws")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestMemoryStore_CopyOnRead(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	key := domain.ConversationKey{WorkspaceID: "ws", ConversationID: "c"}
	_, err := store.CompareAndSwap(ctx, domain.NewState(key, time.Now()), 0)
	require.NoError(t, err)

	loaded, err := store.Load(ctx, key)
	require.NoError(t, err)
	loaded.Slots[domain.SlotDate] = domain.Slot{Value: "2026-10-15"}

	again, err := store.Load(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, again.Slots)
}

func TestMemoryQuotaCounter_WindowRollover(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)
	q := memory.NewQuotaCounter(time.Hour, memory.WithQuotaClock(func() time.Time { return now }))
	key := ports.QuotaKey{WorkspaceID: "ws", Class: "booking"}

	_, _ = q.Incr(ctx, key)
	_, _ = q.Incr(ctx, key)
	usage, _ := q.Usage(ctx, key)
	assert.Equal(t, 2, usage)

	now = now.Add(time.Hour)
	usage, _ = q.Usage(ctx, key)
	assert.Equal(t, 0, usage)
}

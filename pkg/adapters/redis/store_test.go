package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/concierge/pkg/adapters/redis"
	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/ports"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisStore_Contract(t *testing.T) {
	_, client := newClient(t)
	ports.RunConversationStoreContract(t, redis.NewFromClient(client))
}

func TestRedisResultCache_Contract(t *testing.T) {
	_, client := newClient(t)
	ports.RunResultCacheContract(t, redis.NewResultCache(client))
}

func TestRedisQuotaCounter_Contract(t *testing.T) {
	_, client := newClient(t)
	ports.RunQuotaCounterContract(t, redis.NewQuotaCounter(client, time.Hour))
}

func TestRedisStore_TTL_Expiration(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewFromClient(client, redis.WithTTL(1*time.Second))
	ctx := context.Background()
	key := domain.ConversationKey{WorkspaceID: "ws-1", ConversationID: "conv-ttl"}

	_, err := store.CompareAndSwap(ctx, domain.NewState(key, time.Now()), 0)
	require.NoError(t, err)

	ids, err := store.List(ctx, "ws-1")
	require.NoError(t, err)
	assert.Contains(t, ids, "conv-ttl")

	// Expire the key inside miniredis.
	mr.FastForward(2 * time.Second)

	_, err = store.Load(ctx, key)
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)

	// The index is pruned against the wall clock, so real time must pass too.
	time.Sleep(1200 * time.Millisecond)

	ids, err = store.List(ctx, "ws-1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRedisStore_Prefix(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewFromClient(client, redis.WithPrefix("custom:app:"))
	ctx := context.Background()
	key := domain.ConversationKey{WorkspaceID: "ws-1", ConversationID: "my-conv"}

	_, err := store.CompareAndSwap(ctx, domain.NewState(key, time.Now()), 0)
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, domain.TransitionRecord{WorkspaceID: "ws-1", ConversationID: "my-conv", Event: domain.EventUserMsg}))

	assert.True(t, mr.Exists("custom:app:state:ws-1:my-conv"), "state key should carry the prefix")
	assert.True(t, mr.Exists("custom:app:index:ws-1"), "index key should carry the prefix")
	assert.True(t, mr.Exists("custom:app:log:ws-1:my-conv"), "log key should carry the prefix")

	ids, err := store.List(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"my-conv"}, ids)
}

func TestRedisStore_ListIsolatesWorkspaces(t *testing.T) {
	_, client := newClient(t)
	store := redis.NewFromClient(client)
	ctx := context.Background()

	for _, k := range []domain.ConversationKey{
		{WorkspaceID: "ws-a", ConversationID: "c2"},
		{WorkspaceID: "ws-a", ConversationID: "c1"},
		{WorkspaceID: "ws-b", ConversationID: "c3"},
	} {
		_, err := store.CompareAndSwap(ctx, domain.NewState(k, time.Now()), 0)
		require.NoError(t, err)
	}

	ids, err := store.List(ctx, "ws-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, ids)
}

func TestRedisQuotaCounter_Windows(t *testing.T) {
	mr, client := newClient(t)
	now := time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)
	q := redis.NewQuotaCounter(client, time.Minute, redis.WithQuotaClock(func() time.Time { return now }))
	ctx := context.Background()
	key := ports.QuotaKey{WorkspaceID: "ws-1", Class: "booking"}

	_, err := q.Incr(ctx, key)
	require.NoError(t, err)
	n, err := q.Incr(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, k := range mr.Keys() {
		assert.Equal(t, 2*time.Minute, mr.TTL(k), "window keys expire")
	}

	now = now.Add(time.Minute)
	usage, err := q.Usage(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 0, usage, "a new window starts empty")
}

func TestRedisResultCache_TTL(t *testing.T) {
	mr, client := newClient(t)
	cache := redis.NewResultCache(client, redis.WithResultTTL(time.Minute))
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "k", domain.ToolResult{Name: "check_availability", Status: domain.ToolSucceeded, Cached: true}))
	got, ok, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, got.Cached)

	mr.FastForward(2 * time.Minute)
	_, ok, err = cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

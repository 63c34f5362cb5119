package middleware_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/concierge/pkg/adapters/memory"
	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/persistence/middleware"
	"github.com/aretw0/concierge/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var key = domain.ConversationKey{WorkspaceID: "ws-1", ConversationID: "conv-1"}

func TestPIIMiddleware_Contract(t *testing.T) {
	store := middleware.NewPIIMiddleware(middleware.DefaultPIIPatterns)(memory.NewStore())
	ports.RunConversationStoreContract(t, store)
}

func TestPIIMiddleware_Masking(t *testing.T) {
	underlying := memory.NewStore()
	store := middleware.NewPIIMiddleware(middleware.DefaultPIIPatterns)(underlying)
	ctx := context.Background()

	record := domain.TransitionRecord{
		ID:             "tr-1",
		WorkspaceID:    key.WorkspaceID,
		ConversationID: key.ConversationID,
		Event:          domain.EventUserMsg,
		Payload: map[string]any{
			"intent": "book",
			"slots": map[string]any{
				"service": "haircut",
				"email":   "ana@example.com",
				"phone":   "+351 912 345 678",
			},
		},
		Timestamp: time.Now().UTC(),
	}
	require.NoError(t, store.Append(ctx, record))

	slots := record.Payload["slots"].(map[string]any)
	assert.Equal(t, "ana@example.com", slots["email"], "caller's record must not be modified")

	records, err := underlying.Transitions(ctx, key)
	require.NoError(t, err)
	require.Len(t, records, 1)
	stored := records[0].Payload["slots"].(map[string]any)
	assert.Equal(t, middleware.Mask, stored["email"])
	assert.Equal(t, middleware.Mask, stored["phone"])
	assert.Equal(t, "haircut", stored["service"])
	assert.Equal(t, "book", records[0].Payload["intent"])
}

func TestPIIMiddleware_StateUntouched(t *testing.T) {
	store := middleware.NewPIIMiddleware(middleware.DefaultPIIPatterns)(memory.NewStore())
	ctx := context.Background()

	state := domain.NewState(key, time.Now())
	state.Slots[domain.SlotEmail] = domain.Slot{Value: "ana@example.com", Source: domain.SourceUser}
	_, err := store.CompareAndSwap(ctx, state, 0)
	require.NoError(t, err)

	loaded, err := store.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", loaded.Slots[domain.SlotEmail].Value)
}

func TestChain_ForwardsList(t *testing.T) {
	store := middleware.Chain(memory.NewStore(),
		middleware.NewPIIMiddleware(middleware.DefaultPIIPatterns),
		middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)}),
	)
	ctx := context.Background()
	_, err := store.CompareAndSwap(ctx, domain.NewState(key, time.Now()), 0)
	require.NoError(t, err)

	lister, ok := store.(ports.ConversationLister)
	require.True(t, ok)
	ids, err := lister.List(ctx, key.WorkspaceID)
	require.NoError(t, err)
	assert.Equal(t, []string{key.ConversationID}, ids)
}

type bareStore struct{ ports.ConversationStore }

func TestList_Unsupported(t *testing.T) {
	store := middleware.NewPIIMiddleware(nil)(bareStore{memory.NewStore()})
	_, err := store.(ports.ConversationLister).List(context.Background(), "ws")
	assert.ErrorIs(t, err, middleware.ErrListUnsupported)
}

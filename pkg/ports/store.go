package ports

import (
	"context"

	"github.com/aretw0/concierge/pkg/domain"
)

// ConversationStore defines the interface for persisting conversation state
// and its append-only transition log.
type ConversationStore interface {
	// Load retrieves the state for a conversation.
	// Returns domain.ErrConversationNotFound if no state was ever committed.
	Load(ctx context.Context, key domain.ConversationKey) (*domain.ConversationState, error)

	// CompareAndSwap commits next if the stored version still equals
	// expectedVersion (0 means the conversation must not exist yet).
	// On success it returns the committed state carrying the bumped version.
	// On a lost race it returns a *domain.ConflictError.
	CompareAndSwap(ctx context.Context, next *domain.ConversationState, expectedVersion int64) (*domain.ConversationState, error)

	// Append adds a transition record to the conversation's audit log.
	Append(ctx context.Context, record domain.TransitionRecord) error

	// Transitions returns the audit log in append order. It is used for
	// audit and replay only, never by the live decision path.
	Transitions(ctx context.Context, key domain.ConversationKey) ([]domain.TransitionRecord, error)
}

// ResultCache stores tool results by idempotency key.
type ResultCache interface {
	// Get returns the cached result and true on a hit.
	Get(ctx context.Context, key string) (domain.ToolResult, bool, error)

	// Put stores the result. Later Puts for the same key overwrite it.
	Put(ctx context.Context, key string, result domain.ToolResult) error
}

// QuotaKey identifies a usage counter.
type QuotaKey struct {
	WorkspaceID string
	Class       string
}

// QuotaCounter tracks usage per workspace and tool class in fixed windows.
// The window length is an implementation setting.
type QuotaCounter interface {
	// Usage returns the count for the current window.
	Usage(ctx context.Context, key QuotaKey) (int, error)

	// Incr adds one to the current window and returns the new count.
	Incr(ctx context.Context, key QuotaKey) (int, error)
}

// ConversationLister is implemented by stores that can enumerate conversations.
type ConversationLister interface {
	List(ctx context.Context, workspaceID string) ([]string, error)
}

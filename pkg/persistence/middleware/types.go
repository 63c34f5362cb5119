package middleware

import (
	"context"
	"errors"

	"github.com/aretw0/concierge/pkg/ports"
)

// ErrListUnsupported is returned by List when the wrapped store cannot
// enumerate conversations.
var ErrListUnsupported = errors.New("wrapped store does not support listing")

// Middleware allows wrapping a ConversationStore to add behavior.
type Middleware func(ports.ConversationStore) ports.ConversationStore

// Chain applies the middlewares so the first one is the outermost.
func Chain(store ports.ConversationStore, mws ...Middleware) ports.ConversationStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}

func list(ctx context.Context, next ports.ConversationStore, workspaceID string) ([]string, error) {
	lister, ok := next.(ports.ConversationLister)
	if !ok {
		return nil, ErrListUnsupported
	}
	return lister.List(ctx, workspaceID)
}

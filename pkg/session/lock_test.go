package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aretw0/concierge/pkg/adapters/memory"
	"github.com/aretw0/concierge/pkg/domain"
)

func TestManager_LockLifecycle(t *testing.T) {
	mgr := NewManager(memory.NewStore())
	ctx := context.Background()
	count := 10000

	for i := 0; i < count; i++ {
		key := domain.ConversationKey{WorkspaceID: "ws", ConversationID: fmt.Sprintf("conv-%d", i)}
		_, _ = mgr.LoadOrNew(ctx, key, time.Now())
	}

	// If cleaned up properly, no lock entries remain.
	lockCount := len(mgr.locks)
	if lockCount != 0 {
		t.Errorf("Memory Leak Detected: %d locks remaining in memory", lockCount)
	}
}

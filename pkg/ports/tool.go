package ports

import (
	"context"

	"github.com/aretw0/concierge/pkg/domain"
)

// ToolRequest is the wire shape of a tool call.
type ToolRequest struct {
	Name           string         `json:"name"`
	Args           map[string]any `json:"args"`
	WorkspaceID    string         `json:"workspace_id"`
	ConversationID string         `json:"conversation_id"`
	IdempotencyKey string         `json:"idempotency_key"`
}

// ToolResponse is what a target answered.
type ToolResponse struct {
	Status  domain.ToolStatus `json:"status"`
	Payload map[string]any    `json:"payload,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// ToolTarget performs a side effect on behalf of the broker.
//
// A returned error is a transport failure. It is treated as transient unless
// it is a *domain.ToolExecutionError with Transient set to false.
type ToolTarget interface {
	Invoke(ctx context.Context, req ToolRequest) (ToolResponse, error)
}

// ToolTargetFunc adapts a function to ToolTarget.
type ToolTargetFunc func(ctx context.Context, req ToolRequest) (ToolResponse, error)

// Invoke calls f.
func (f ToolTargetFunc) Invoke(ctx context.Context, req ToolRequest) (ToolResponse, error) {
	return f(ctx, req)
}

// RequestFor converts an invocation into its wire request.
func RequestFor(inv domain.ToolInvocation) ToolRequest {
	return ToolRequest{
		Name:           inv.Name,
		Args:           inv.Args,
		WorkspaceID:    inv.WorkspaceID,
		ConversationID: inv.ConversationID,
		IdempotencyKey: inv.IdempotencyKey,
	}
}

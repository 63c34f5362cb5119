package ports

import (
	"context"

	"github.com/aretw0/concierge/pkg/domain"
)

// PlanRequest is the input of the model-driven pipeline's planning call.
type PlanRequest struct {
	WorkspaceID    string          `json:"workspace_id"`
	ConversationID string          `json:"conversation_id"`
	Text           string          `json:"text"`
	Vertical       string          `json:"vertical"`
	FSMState       domain.FSMState `json:"fsm_state"`
	Intent         string          `json:"intent,omitempty"`
	Slots          map[string]any  `json:"slots,omitempty"`
	Tools          []domain.Tool   `json:"tools,omitempty"`
}

// Planner is the consumed extraction/planning capability.
// It returns the raw structured output; decoding and validation are the
// caller's job.
type Planner interface {
	Plan(ctx context.Context, req PlanRequest) (map[string]any, error)
}

// Responder produces the user-facing text for a state. It never mutates state.
type Responder interface {
	Respond(ctx context.Context, state *domain.ConversationState, last *domain.ToolResult) (string, error)
}

// TelemetrySink receives one structured record per turn.
type TelemetrySink interface {
	Record(ctx context.Context, rec domain.TurnRecord)
}

package domain

import "time"

// Event is an input to the dialogue state machine.
type Event string

const (
	EventUserMsg     Event = "user_msg"
	EventToolResult  Event = "tool_result"
	EventConfirmOK   Event = "confirm_ok"
	EventConfirmEdit Event = "confirm_edit"
	EventAbort       Event = "abort"
	EventHandoff     Event = "handoff"

	// EventReset re-initializes a conversation to START. It is issued by
	// operators, never by the automated flow.
	EventReset Event = "reset"
)

// TransitionRecord is an append-only audit entry written once per applied event.
// Ignored events are recorded too, with Accepted set to false.
type TransitionRecord struct {
	ID             string         `json:"id"`
	WorkspaceID    string         `json:"workspace_id"`
	ConversationID string         `json:"conversation_id"`
	Event          Event          `json:"event"`
	Payload        map[string]any `json:"payload,omitempty"`
	PreviousState  FSMState       `json:"previous_state"`
	NewState       FSMState       `json:"new_state"`
	PreviousAction NextAction     `json:"previous_action"`
	NewAction      NextAction     `json:"new_action"`
	Accepted       bool           `json:"accepted"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Key returns the conversation the record belongs to.
func (r TransitionRecord) Key() ConversationKey {
	return ConversationKey{WorkspaceID: r.WorkspaceID, ConversationID: r.ConversationID}
}

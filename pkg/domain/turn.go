package domain

import "time"

// Turn is one normalized inbound message.
type Turn struct {
	WorkspaceID    string    `json:"workspace_id"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id,omitempty"`
	Text           string    `json:"text"`
	Vertical       string    `json:"vertical"`
	Tier           string    `json:"tier,omitempty"`
	ReceivedAt     time.Time `json:"received_at"`
}

// Key returns the conversation the turn belongs to.
func (t Turn) Key() ConversationKey {
	return ConversationKey{WorkspaceID: t.WorkspaceID, ConversationID: t.ConversationID}
}

// Reply is the outcome of a turn: what the system does next and the
// user-facing text.
type Reply struct {
	NextAction NextAction   `json:"next_action"`
	FSMState   FSMState     `json:"fsm_state"`
	Text       string       `json:"text"`
	Route      Route        `json:"route"`
	Fallback   bool         `json:"fallback,omitempty"`
	ErrorCode  ErrorCode    `json:"error_code,omitempty"`
	Missing    []string     `json:"missing,omitempty"`
	Results    []ToolResult `json:"results,omitempty"`
}

package domain

import "time"

// FSMState is the high-level phase of a conversation.
type FSMState string

const (
	StateStart      FSMState = "START"
	StateCollecting FSMState = "COLLECTING"
	StateConfirming FSMState = "CONFIRMING"
	StateCheckout   FSMState = "CHECKOUT"
	StateDone       FSMState = "DONE"
	StateHandoff    FSMState = "HANDOFF"
)

// Terminal reports whether automation stops in this state.
// A human or external process must reset the conversation to resume.
func (s FSMState) Terminal() bool {
	return s == StateDone || s == StateHandoff
}

// NextAction is what the system does next for the user.
type NextAction string

const (
	ActionAsk      NextAction = "ask"
	ActionToolCall NextAction = "tool_call"
	ActionAnswer   NextAction = "answer"
	ActionHandoff  NextAction = "handoff"
)

// ConversationKey identifies a conversation within a workspace.
type ConversationKey struct {
	WorkspaceID    string `json:"workspace_id"`
	ConversationID string `json:"conversation_id"`
}

func (k ConversationKey) String() string {
	return k.WorkspaceID + "/" + k.ConversationID
}

// ConversationState is the durable snapshot of a conversation.
type ConversationState struct {
	WorkspaceID    string `json:"workspace_id"`
	ConversationID string `json:"conversation_id"`

	FSMState   FSMState   `json:"fsm_state"`
	Intent     string     `json:"intent,omitempty"`
	Slots      Slots      `json:"slots"`
	NextAction NextAction `json:"next_action"`

	// Meta holds pipeline-private bookkeeping (attempt counters, last route).
	Meta map[string]any `json:"meta,omitempty"`

	// Version is the optimistic concurrency token. Stores bump it on every
	// successful compare-and-swap; zero means "never persisted".
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewState creates the initial state for a conversation.
func NewState(key ConversationKey, now time.Time) *ConversationState {
	return &ConversationState{
		WorkspaceID:    key.WorkspaceID,
		ConversationID: key.ConversationID,
		FSMState:       StateStart,
		Slots:          make(Slots),
		NextAction:     ActionAnswer,
		Meta:           make(map[string]any),
		UpdatedAt:      now,
	}
}

// Key returns the conversation key of the state.
func (s *ConversationState) Key() ConversationKey {
	return ConversationKey{WorkspaceID: s.WorkspaceID, ConversationID: s.ConversationID}
}

// Clone returns a copy with independent slot and meta maps.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	next := *s
	next.Slots = make(Slots, len(s.Slots))
	for k, v := range s.Slots {
		next.Slots[k] = v
	}
	next.Meta = make(map[string]any, len(s.Meta))
	for k, v := range s.Meta {
		next.Meta[k] = v
	}
	return &next
}

// MetaInt reads an integer counter from Meta.
// JSON round-trips turn numbers into float64, so both are accepted.
func (s *ConversationState) MetaInt(key string) int {
	switch v := s.Meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

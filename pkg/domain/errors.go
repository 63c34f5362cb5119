package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrConversationNotFound is returned when a conversation has no stored state.
var ErrConversationNotFound = errors.New("conversation not found")

// ErrConflict is returned when a compare-and-swap observes a newer version.
var ErrConflict = errors.New("conversation state conflict")

// ErrUnknownTool is returned when a tool name has no registered target.
var ErrUnknownTool = errors.New("unknown tool")

// ErrUnknownSlot is returned for slot names outside the canonical set.
var ErrUnknownSlot = errors.New("unknown slot")

// ErrInvalidTurn is returned for turns missing their identifiers.
var ErrInvalidTurn = errors.New("invalid turn")

// ErrTurnDeadline is returned when the enclosing turn deadline elapsed.
var ErrTurnDeadline = errors.New("turn deadline exceeded")

// ErrTransitionsLost is returned when a state commit succeeded but some of
// its transition records could not be appended.
var ErrTransitionsLost = errors.New("transition records lost")

// ConflictError reports a concurrent state mutation for one conversation.
type ConflictError struct {
	Key             ConversationKey
	ExpectedVersion int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: expected version %d", e.Key, e.ExpectedVersion)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// SchemaValidationError reports malformed pipeline output.
type SchemaValidationError struct {
	Pipeline Route
	Reason   string
	Err      error
}

func (e *SchemaValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s pipeline output invalid: %s: %v", e.Pipeline, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s pipeline output invalid: %s", e.Pipeline, e.Reason)
}

func (e *SchemaValidationError) Unwrap() error { return e.Err }

// ToolExecutionError reports a network or remote failure of a tool target.
type ToolExecutionError struct {
	Tool      string
	Transient bool
	Err       error
}

func (e *ToolExecutionError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("tool %s failed (%s): %v", e.Tool, kind, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// CircuitOpenError is returned when a target's circuit rejects a call.
type CircuitOpenError struct {
	Target   string
	OpenedAt time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s since %s", e.Target, e.OpenedAt.Format(time.RFC3339))
}

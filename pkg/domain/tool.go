package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
)

// ToolInvocation is a candidate side-effect, built per call and never
// persisted apart from its result.
type ToolInvocation struct {
	Name           string         `json:"name" mapstructure:"name"`
	Args           map[string]any `json:"args,omitempty" mapstructure:"args"`
	IdempotencyKey string         `json:"idempotency_key" mapstructure:"idempotency_key"`
	WorkspaceID    string         `json:"workspace_id" mapstructure:"workspace_id"`
	ConversationID string         `json:"conversation_id" mapstructure:"conversation_id"`
}

// NewInvocation builds an invocation with its derived idempotency key.
// cycle is the conversation's reset count (MetaCycle).
func NewInvocation(key ConversationKey, cycle int, name string, args map[string]any) ToolInvocation {
	if args == nil {
		args = map[string]any{}
	}
	return ToolInvocation{
		Name:           name,
		Args:           args,
		IdempotencyKey: IdempotencyKey(key, cycle, name, args),
		WorkspaceID:    key.WorkspaceID,
		ConversationID: key.ConversationID,
	}
}

// IdempotencyKey derives the stable key for a logical request within one
// booking cycle. encoding/json sorts map keys, so equal args always hash
// the same.
func IdempotencyKey(key ConversationKey, cycle int, name string, args map[string]any) string {
	canonical, err := json.Marshal(args)
	if err != nil {
		canonical = []byte("{}")
	}
	h := sha256.New()
	h.Write([]byte(key.WorkspaceID))
	h.Write([]byte{0})
	h.Write([]byte(key.ConversationID))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(cycle)))
	h.Write([]byte{0})
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

// ToolStatus is the outcome class of a tool attempt.
type ToolStatus string

const (
	ToolSucceeded       ToolStatus = "succeeded"
	ToolFailedTransient ToolStatus = "failed_transient"
	ToolFailedPermanent ToolStatus = "failed_permanent"
	ToolDenied          ToolStatus = "denied"
)

// ErrorCode is the error taxonomy code carried by results and telemetry.
type ErrorCode string

const (
	CodeNone             ErrorCode = ""
	CodeValidation       ErrorCode = "validation"
	CodeSchemaValidation ErrorCode = "schema_validation"
	CodeToolTransient    ErrorCode = "tool_transient"
	CodeToolPermanent    ErrorCode = "tool_permanent"
	CodeCircuitOpen      ErrorCode = "circuit_open"
	CodeTimeout          ErrorCode = "timeout"
	CodeConflict         ErrorCode = "conflict"
	CodeRateLimited      ErrorCode = "rate_limited"
	CodeNotAllowed       ErrorCode = "not_allowed"
	CodeDeadline         ErrorCode = "deadline"
)

// ToolError describes why a tool result is not a success.
type ToolError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ToolResult is the outcome of a tool invocation.
type ToolResult struct {
	Name     string         `json:"name"`
	Status   ToolStatus     `json:"status"`
	Payload  map[string]any `json:"payload,omitempty"`
	Error    *ToolError     `json:"error,omitempty"`
	Attempts int            `json:"attempts"`

	// Cached is set when the result was replayed from the idempotency cache.
	// It is delivery metadata: a replay equals the original result once
	// Cached is cleared.
	Cached bool `json:"cached,omitempty"`
}

// Succeeded reports whether the call took effect.
func (r ToolResult) Succeeded() bool {
	return r.Status == ToolSucceeded
}

// Unavailable reports whether an availability check succeeded but found
// the requested slot taken.
func (r ToolResult) Unavailable() bool {
	if !r.Succeeded() {
		return false
	}
	available, ok := r.Payload["available"].(bool)
	return ok && !available
}

// Code returns the error code, or CodeNone on success.
func (r ToolResult) Code() ErrorCode {
	if r.Error == nil {
		return CodeNone
	}
	return r.Error.Code
}

// Failed builds a non-success result.
func Failed(name string, status ToolStatus, code ErrorCode, msg string) ToolResult {
	return ToolResult{
		Name:   name,
		Status: status,
		Error:  &ToolError{Code: code, Message: msg},
	}
}

// Tool describes a tool exposed to pipelines (used for prompts/introspection).
type Tool struct {
	Name        string `json:"name" yaml:"name" mapstructure:"name"`
	Description string `json:"description" yaml:"description" mapstructure:"description"`
}

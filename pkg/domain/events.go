package domain

import (
	"context"
	"time"
)

// Stage names a step of turn processing, used for latency telemetry.
type Stage string

const (
	StageRoute      Stage = "route"
	StagePipeline   Stage = "pipeline"
	StagePolicy     Stage = "policy"
	StageTools      Stage = "tools"
	StageReduce     Stage = "reduce"
	StageTransition Stage = "transition"
)

// TurnRecord is the structured per-turn telemetry record.
type TurnRecord struct {
	TurnID         string                  `json:"turn_id"`
	WorkspaceID    string                  `json:"workspace_id"`
	ConversationID string                  `json:"conversation_id"`
	Route          Route                   `json:"route"`
	Bucket         int                     `json:"bucket"`
	Latency        map[Stage]time.Duration `json:"latency"`
	Confidence     float64                 `json:"confidence"`
	NextAction     NextAction              `json:"next_action"`
	FSMState       FSMState                `json:"fsm_state"`
	ErrorCode      ErrorCode               `json:"error_code,omitempty"`
	Fallback       bool                    `json:"fallback,omitempty"`
	Retries        int                     `json:"retries,omitempty"`
	Timestamp      time.Time               `json:"timestamp"`
}

// ToolEvent describes a single broker attempt.
type ToolEvent struct {
	Timestamp      time.Time  `json:"timestamp"`
	ConversationID string     `json:"conversation_id"`
	ToolName       string     `json:"tool_name"`
	Attempt        int        `json:"attempt"`
	Status         ToolStatus `json:"status"`
	Duration       time.Duration
}

// LifecycleHooks defines callbacks for observability.
type LifecycleHooks struct {
	OnTransition func(context.Context, TransitionRecord)
	OnToolReturn func(context.Context, ToolEvent)
	OnTurn       func(context.Context, TurnRecord)
}

// Package pipeline defines the decision-pipeline contract and its variants.
//
// A pipeline turns one inbound message into an intent, raw slot values and
// up to MaxCalls candidate tool calls. Output is untrusted: Validate checks
// its shape and the orchestrator gates it on confidence before anything else
// sees it.
package pipeline

import (
	"context"
	"fmt"
	"math"

	"github.com/aretw0/concierge/pkg/domain"
)

// MaxCalls bounds the candidate calls of one turn.
const MaxCalls = 3

// Intents produced by the built-in variants.
const (
	IntentBook        = "book"
	IntentConfirm     = "confirm"
	IntentEdit        = "edit"
	IntentCancel      = "cancel"
	IntentHandoff     = "handoff"
	IntentProvideInfo = "provide_info"
	IntentUnknown     = "unknown"
)

// Input is what a pipeline sees of a turn.
type Input struct {
	Turn  domain.Turn
	State *domain.ConversationState
	Tools []domain.Tool
}

// CandidateCall is a proposed tool call.
type CandidateCall struct {
	Name string         `json:"name" mapstructure:"name"`
	Args map[string]any `json:"args,omitempty" mapstructure:"args"`
}

// Output is the structured result of a pipeline run.
type Output struct {
	Intent     string            `json:"intent" mapstructure:"intent"`
	Slots      map[string]string `json:"slots,omitempty" mapstructure:"slots"`
	Confidence float64           `json:"confidence" mapstructure:"confidence"`
	Calls      []CandidateCall   `json:"calls,omitempty" mapstructure:"calls"`
}

// Pipeline is one decision variant.
type Pipeline interface {
	Name() domain.Route
	Run(ctx context.Context, in Input) (Output, error)
}

// Validate checks the shape of an output.
func Validate(route domain.Route, out Output) error {
	fail := func(reason string) error {
		return &domain.SchemaValidationError{Pipeline: route, Reason: reason}
	}
	if out.Intent == "" {
		return fail("intent is empty")
	}
	if math.IsNaN(out.Confidence) || out.Confidence < 0 || out.Confidence > 1 {
		return fail(fmt.Sprintf("confidence %v outside [0,1]", out.Confidence))
	}
	if len(out.Calls) > MaxCalls {
		return fail(fmt.Sprintf("%d calls exceed the limit of %d", len(out.Calls), MaxCalls))
	}
	for i, c := range out.Calls {
		if c.Name == "" {
			return fail(fmt.Sprintf("call %d has no name", i))
		}
	}
	return nil
}

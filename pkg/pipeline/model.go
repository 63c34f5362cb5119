package pipeline

import (
	"context"
	"fmt"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/ports"
	"github.com/mitchellh/mapstructure"
)

// Model is the model-driven variant. Extraction and planning are delegated
// to a ports.Planner; its raw output is decoded and validated here.
type Model struct {
	planner ports.Planner
}

// NewModel creates the model-driven variant.
func NewModel(planner ports.Planner) *Model {
	return &Model{planner: planner}
}

func (m *Model) Name() domain.Route { return domain.RouteModel }

// Run calls the planner and decodes its output.
func (m *Model) Run(ctx context.Context, in Input) (Output, error) {
	req := ports.PlanRequest{
		WorkspaceID:    in.Turn.WorkspaceID,
		ConversationID: in.Turn.ConversationID,
		Text:           in.Turn.Text,
		Vertical:       in.Turn.Vertical,
		Tools:          in.Tools,
	}
	if in.State != nil {
		req.FSMState = in.State.FSMState
		req.Intent = in.State.Intent
		req.Slots = in.State.Slots.Values()
	}

	raw, err := m.planner.Plan(ctx, req)
	if err != nil {
		return Output{}, fmt.Errorf("planner failed: %w", err)
	}
	return Decode(raw)
}

// Decode converts raw planner output into an Output. Scalars are coerced
// (a numeric party size becomes a string slot).
func Decode(raw map[string]any) (Output, error) {
	var out Output
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return Output{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return Output{}, &domain.SchemaValidationError{Pipeline: domain.RouteModel, Reason: "undecodable output", Err: err}
	}
	return out, nil
}

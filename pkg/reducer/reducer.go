// Package reducer folds turn observations into a state patch.
package reducer

import (
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/slots"
)

// Rejection reasons.
const (
	ReasonUnknownSlot = "unknown_slot"
	ReasonInvalid     = "invalid"
	ReasonProtected   = "protected"
)

// Observation is one input to Reduce.
type Observation interface {
	observation()
}

// SlotObservation is a raw slot value extracted by a pipeline or tool.
type SlotObservation struct {
	Name   string
	Raw    string
	Source domain.SlotSource
}

// ToolObservation is one tool outcome.
type ToolObservation struct {
	Result domain.ToolResult
}

// IntentObservation is the pipeline's intent for the turn.
type IntentObservation struct {
	Intent string
}

func (SlotObservation) observation()   {}
func (ToolObservation) observation()   {}
func (IntentObservation) observation() {}

// Reducer merges observations. It is pure apart from the normalizer clock.
type Reducer struct {
	normalizer *slots.Normalizer
}

// New creates a Reducer.
func New(n *slots.Normalizer) *Reducer {
	if n == nil {
		n = slots.New()
	}
	return &Reducer{normalizer: n}
}

// Reduce folds observations strictly in slice order and returns the patch
// that turns current into the merged state. The input is not mutated.
func (r *Reducer) Reduce(current *domain.ConversationState, observations []Observation) *domain.Patch {
	work := current.Clone()
	patch := &domain.Patch{}

	for _, obs := range observations {
		switch o := obs.(type) {
		case IntentObservation:
			if o.Intent != "" && o.Intent != work.Intent {
				intent := o.Intent
				patch.Intent = &intent
				work.Intent = intent
			}
		case SlotObservation:
			r.mergeSlot(work, patch, o)
		case ToolObservation:
			r.mergeTool(work, patch, o.Result)
		}
	}
	return patch
}

func (r *Reducer) mergeSlot(work *domain.ConversationState, patch *domain.Patch, o SlotObservation) {
	name, value, err := r.normalizer.NormalizeRaw(o.Name, o.Raw)
	if err != nil {
		reason := ReasonInvalid
		if errors.Is(err, domain.ErrUnknownSlot) {
			reason = ReasonUnknownSlot
		}
		patch.Rejected = append(patch.Rejected, domain.Rejection{Slot: o.Name, Raw: o.Raw, Reason: reason})
		return
	}

	source := o.Source
	if source == "" {
		source = domain.SourceUser
	}
	if prev, ok := work.Slots[name]; ok && prev.Source == domain.SourceTool && source == domain.SourceUser && prev.Value != value {
		patch.Rejected = append(patch.Rejected, domain.Rejection{Slot: o.Name, Raw: o.Raw, Reason: ReasonProtected})
		return
	}
	if prev, ok := work.Slots[name]; ok && prev.Value == value && (prev.Source == source || source == domain.SourceUser) {
		return
	}

	slot := domain.Slot{Value: value, Source: source}
	work.Slots[name] = slot
	if patch.Set == nil {
		patch.Set = make(map[domain.SlotName]domain.Slot)
	}
	patch.Set[name] = slot
}

func (r *Reducer) mergeTool(work *domain.ConversationState, patch *domain.Patch, res domain.ToolResult) {
	r.setMeta(work, patch, domain.MetaLastTool, res.Name)
	r.setMeta(work, patch, domain.MetaLastToolStatus, string(res.Status))

	if !res.Succeeded() {
		r.setMeta(work, patch, domain.MetaToolFailures, work.MetaInt(domain.MetaToolFailures)+1)
		return
	}
	if work.MetaInt(domain.MetaToolFailures) != 0 {
		r.setMeta(work, patch, domain.MetaToolFailures, 0)
	}

	for _, name := range domain.AllSlots {
		raw, ok := res.Payload[string(name)]
		if !ok || raw == nil {
			continue
		}
		r.mergeSlot(work, patch, SlotObservation{Name: string(name), Raw: fmt.Sprint(raw), Source: domain.SourceTool})
	}
}

func (r *Reducer) setMeta(work *domain.ConversationState, patch *domain.Patch, key string, value any) {
	work.Meta[key] = value
	if patch.Meta == nil {
		patch.Meta = make(map[string]any)
	}
	patch.Meta[key] = value
}

// Apply is a convenience for Reduce followed by Patch.Apply.
func (r *Reducer) Apply(current *domain.ConversationState, observations []Observation, now time.Time) (*domain.ConversationState, *domain.Patch) {
	patch := r.Reduce(current, observations)
	return patch.Apply(current, now), patch
}

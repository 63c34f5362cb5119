package domain

import (
	"reflect"
	"time"
)

// Rejection records an observation the reducer refused to merge.
type Rejection struct {
	Slot   string `json:"slot"`
	Raw    string `json:"raw"`
	Reason string `json:"reason"`
}

// Patch is a set of changes to a ConversationState.
// It is designed to be serialized into transition record payloads.
type Patch struct {
	// Intent is set when the intent changed.
	Intent *string `json:"intent,omitempty"`

	// Set contains added or modified slots.
	Set map[SlotName]Slot `json:"set,omitempty"`

	// Meta contains changed meta keys. A nil value deletes the key.
	Meta map[string]any `json:"meta,omitempty"`

	// Rejected lists observations that produced no update.
	Rejected []Rejection `json:"rejected,omitempty"`
}

// IsEmpty checks if the patch carries any state change.
// Rejections alone do not change state.
func (p *Patch) IsEmpty() bool {
	return p == nil || (p.Intent == nil && len(p.Set) == 0 && len(p.Meta) == 0)
}

// Apply returns a new state with the patch applied. The input is not mutated.
func (p *Patch) Apply(state *ConversationState, now time.Time) *ConversationState {
	next := state.Clone()
	if p.IsEmpty() {
		return next
	}
	if p.Intent != nil {
		next.Intent = *p.Intent
	}
	for k, v := range p.Set {
		next.Slots[k] = v
	}
	for k, v := range p.Meta {
		if v == nil {
			delete(next.Meta, k)
			continue
		}
		next.Meta[k] = v
	}
	next.UpdatedAt = now
	return next
}

// Diff calculates the patch that turns oldState into newState.
// If oldState is nil, it returns a patch representing the entire newState.
func Diff(oldState, newState *ConversationState) *Patch {
	if newState == nil {
		return nil
	}

	patch := &Patch{}

	if oldState == nil || oldState.Intent != newState.Intent {
		if newState.Intent != "" || oldState != nil {
			intent := newState.Intent
			patch.Intent = &intent
		}
	}

	patch.Set = diffSlots(oldState, newState)
	patch.Meta = diffMeta(oldState, newState)

	if patch.IsEmpty() {
		return nil
	}
	return patch
}

func diffSlots(old, new *ConversationState) map[SlotName]Slot {
	delta := make(map[SlotName]Slot)
	for k, v := range new.Slots {
		if old == nil {
			delta[k] = v
			continue
		}
		if prev, ok := old.Slots[k]; !ok || !reflect.DeepEqual(prev, v) {
			delta[k] = v
		}
	}
	if len(delta) == 0 {
		return nil
	}
	return delta
}

func diffMeta(old, new *ConversationState) map[string]any {
	delta := make(map[string]any)

	if old == nil {
		for k, v := range new.Meta {
			delta[k] = v
		}
	} else {
		for k, newVal := range new.Meta {
			oldVal, exists := old.Meta[k]
			if !exists || !reflect.DeepEqual(oldVal, newVal) {
				delta[k] = newVal
			}
		}
		for k := range old.Meta {
			if _, exists := new.Meta[k]; !exists {
				delta[k] = nil
			}
		}
	}

	if len(delta) == 0 {
		return nil
	}
	return delta
}

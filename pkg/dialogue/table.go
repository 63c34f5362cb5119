package dialogue

import (
	"time"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/google/uuid"
)

// Outcome is the target of a transition.
type Outcome struct {
	State  domain.FSMState
	Action domain.NextAction
}

type edge struct {
	from  domain.FSMState
	event domain.Event
}

var table = map[edge]Outcome{
	{domain.StateStart, domain.EventUserMsg}: {domain.StateCollecting, domain.ActionAnswer},
	{domain.StateStart, domain.EventHandoff}: {domain.StateHandoff, domain.ActionHandoff},

	{domain.StateCollecting, domain.EventUserMsg}:    {domain.StateCollecting, domain.ActionToolCall},
	{domain.StateCollecting, domain.EventToolResult}: {domain.StateConfirming, domain.ActionAnswer},
	{domain.StateCollecting, domain.EventHandoff}:    {domain.StateHandoff, domain.ActionHandoff},

	{domain.StateConfirming, domain.EventConfirmOK}:   {domain.StateCheckout, domain.ActionToolCall},
	{domain.StateConfirming, domain.EventConfirmEdit}: {domain.StateCollecting, domain.ActionAnswer},
	{domain.StateConfirming, domain.EventAbort}:       {domain.StateStart, domain.ActionAnswer},
	{domain.StateConfirming, domain.EventHandoff}:     {domain.StateHandoff, domain.ActionHandoff},

	{domain.StateCheckout, domain.EventToolResult}: {domain.StateDone, domain.ActionAnswer},
	{domain.StateCheckout, domain.EventHandoff}:    {domain.StateHandoff, domain.ActionHandoff},
}

// Next looks up the transition for (state, event).
func Next(state domain.FSMState, event domain.Event) (Outcome, bool) {
	out, ok := table[edge{state, event}]
	return out, ok
}

// Fire applies event to state and returns the new state and its record.
// The input is not mutated. Ignored events return an unchanged copy and a
// record with Accepted set to false.
func Fire(state *domain.ConversationState, event domain.Event, payload map[string]any, now time.Time) (*domain.ConversationState, domain.TransitionRecord) {
	next := state.Clone()
	rec := domain.TransitionRecord{
		ID:             uuid.NewString(),
		WorkspaceID:    state.WorkspaceID,
		ConversationID: state.ConversationID,
		Event:          event,
		Payload:        payload,
		PreviousState:  state.FSMState,
		NewState:       state.FSMState,
		PreviousAction: state.NextAction,
		NewAction:      state.NextAction,
		Timestamp:      now,
	}

	if event == domain.EventReset {
		next = domain.NewState(state.Key(), now)
		next.Version = state.Version
		if v, ok := state.Meta[domain.MetaVertical]; ok {
			next.Meta[domain.MetaVertical] = v
		}
		next.Meta[domain.MetaCycle] = state.MetaInt(domain.MetaCycle) + 1
		rec.NewState = next.FSMState
		rec.NewAction = next.NextAction
		rec.Accepted = true
		return next, rec
	}

	out, ok := Next(state.FSMState, event)
	if !ok {
		return next, rec
	}

	next.FSMState = out.State
	next.NextAction = out.Action
	next.UpdatedAt = now
	rec.NewState = out.State
	rec.NewAction = out.Action
	rec.Accepted = true
	return next, rec
}

// Edges returns every listed transition, for introspection.
func Edges() map[domain.FSMState]map[domain.Event]Outcome {
	out := make(map[domain.FSMState]map[domain.Event]Outcome)
	for e, o := range table {
		if out[e.from] == nil {
			out[e.from] = make(map[domain.Event]Outcome)
		}
		out[e.from][e.event] = o
	}
	return out
}

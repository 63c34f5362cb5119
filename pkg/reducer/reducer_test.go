package reducer

import (
	"testing"
	"time"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/slots"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, time.October, 14, 9, 0, 0, 0, time.UTC)

func newReducer() *Reducer {
	return New(slots.New(slots.WithClock(func() time.Time { return now })))
}

func baseState() *domain.ConversationState {
	return domain.NewState(domain.ConversationKey{WorkspaceID: "ws", ConversationID: "c1"}, now)
}

func TestReduce_NormalizesAndMerges(t *testing.T) {
	r := newReducer()
	state := baseState()

	patch := r.Reduce(state, []Observation{
		IntentObservation{Intent: "book"},
		SlotObservation{Name: "date", Raw: "tomorrow", Source: domain.SourceUser},
		SlotObservation{Name: "time", Raw: "3pm"},
	})

	require.NotNil(t, patch.Intent)
	assert.Equal(t, "book", *patch.Intent)
	assert.Equal(t, domain.Slot{Value: "2026-10-15", Source: domain.SourceUser}, patch.Set[domain.SlotDate])
	assert.Equal(t, domain.Slot{Value: "15:00", Source: domain.SourceUser}, patch.Set[domain.SlotTime])
	assert.Empty(t, patch.Rejected)
	assert.Empty(t, state.Slots, "input must not be mutated")
}

func TestReduce_LastWriteWins(t *testing.T) {
	r := newReducer()
	patch := r.Reduce(baseState(), []Observation{
		SlotObservation{Name: "time", Raw: "10:00"},
		SlotObservation{Name: "time", Raw: "11am"},
	})
	assert.Equal(t, "11:00", patch.Set[domain.SlotTime].Value)
}

func TestReduce_Rejections(t *testing.T) {
	r := newReducer()
	state := baseState()
	state.Slots[domain.SlotEmail] = domain.Slot{Value: "ana@example.com", Source: domain.SourceUser}

	patch := r.Reduce(state, []Observation{
		SlotObservation{Name: "email", Raw: "nope"},
		SlotObservation{Name: "shoe_size", Raw: "42"},
	})

	assert.Empty(t, patch.Set, "invalid values produce no update")
	require.Len(t, patch.Rejected, 2)
	assert.Equal(t, ReasonInvalid, patch.Rejected[0].Reason)
	assert.Equal(t, ReasonUnknownSlot, patch.Rejected[1].Reason)
	assert.True(t, patch.IsEmpty())
}

func TestReduce_ToolValuesProtected(t *testing.T) {
	r := newReducer()
	state := baseState()
	state.Slots[domain.SlotBookingID] = domain.Slot{Value: "B-1", Source: domain.SourceTool}
	state.Slots[domain.SlotTime] = domain.Slot{Value: "10:00", Source: domain.SourceTool}

	patch := r.Reduce(state, []Observation{
		SlotObservation{Name: "booking_id", Raw: "B-2", Source: domain.SourceUser},
		SlotObservation{Name: "time", Raw: "10am", Source: domain.SourceUser},
	})

	assert.Empty(t, patch.Set)
	require.Len(t, patch.Rejected, 1, "repeating the same value is not a conflict")
	assert.Equal(t, ReasonProtected, patch.Rejected[0].Reason)
	assert.Equal(t, "booking_id", patch.Rejected[0].Slot)

	// A later tool observation may replace a tool value.
	patch = r.Reduce(state, []Observation{
		ToolObservation{Result: domain.ToolResult{Name: "create_booking", Status: domain.ToolSucceeded, Payload: map[string]any{"booking_id": "B-3"}}},
	})
	assert.Equal(t, domain.Slot{Value: "B-3", Source: domain.SourceTool}, patch.Set[domain.SlotBookingID])
}

func TestReduce_ToolResults(t *testing.T) {
	r := newReducer()
	state := baseState()
	state.Slots[domain.SlotPartySize] = domain.Slot{Value: "4", Source: domain.SourceUser}

	next, patch := r.Apply(state, []Observation{
		ToolObservation{Result: domain.Failed("check_availability", domain.ToolFailedTransient, domain.CodeToolTransient, "down")},
	}, now)
	assert.Equal(t, 1, next.MetaInt(domain.MetaToolFailures))
	assert.Equal(t, "failed_transient", next.Meta[domain.MetaLastToolStatus])
	assert.Equal(t, "check_availability", patch.Meta[domain.MetaLastTool])

	next, _ = r.Apply(next, []Observation{
		ToolObservation{Result: domain.ToolResult{
			Name:    "check_availability",
			Status:  domain.ToolSucceeded,
			Payload: map[string]any{"time": "10:30", "party_size": float64(4), "available": true},
		}},
	}, now)
	assert.Equal(t, 0, next.MetaInt(domain.MetaToolFailures))
	assert.Equal(t, domain.Slot{Value: "10:30", Source: domain.SourceTool}, next.Slots[domain.SlotTime])
	assert.Equal(t, domain.Slot{Value: "4", Source: domain.SourceTool}, next.Slots[domain.SlotPartySize])
	_, hasUnknown := next.Meta["available"]
	assert.False(t, hasUnknown)
}

func TestReduce_OrderMatters(t *testing.T) {
	r := newReducer()
	toolThenUser := r.Reduce(baseState(), []Observation{
		ToolObservation{Result: domain.ToolResult{Name: "x", Status: domain.ToolSucceeded, Payload: map[string]any{"time": "10:00"}}},
		SlotObservation{Name: "time", Raw: "11:00", Source: domain.SourceUser},
	})
	userThenTool := r.Reduce(baseState(), []Observation{
		SlotObservation{Name: "time", Raw: "11:00", Source: domain.SourceUser},
		ToolObservation{Result: domain.ToolResult{Name: "x", Status: domain.ToolSucceeded, Payload: map[string]any{"time": "10:00"}}},
	})

	assert.Equal(t, "10:00", toolThenUser.Set[domain.SlotTime].Value)
	assert.Equal(t, "10:00", userThenTool.Set[domain.SlotTime].Value)
	assert.Len(t, toolThenUser.Rejected, 1)
	assert.Empty(t, userThenTool.Rejected)
}

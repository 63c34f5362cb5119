package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/policy"
)

// Templates is the default ports.Responder. It renders fixed English
// templates from the state and the last tool result.
type Templates struct{}

// Respond renders the reply for a state.
func (Templates) Respond(ctx context.Context, state *domain.ConversationState, last *domain.ToolResult) (string, error) {
	if last != nil && !last.Succeeded() && state.FSMState != domain.StateHandoff {
		return failureText(last), nil
	}

	switch state.FSMState {
	case domain.StateStart:
		return "Hi! What would you like to book?", nil
	case domain.StateCollecting:
		if last != nil && last.Name == policy.ToolCheckAvailability {
			return "That slot is available. " + summary(state) + " Shall I confirm?", nil
		}
		return "Got it. Anything else I should know?", nil
	case domain.StateConfirming:
		return summary(state) + " Shall I confirm?", nil
	case domain.StateCheckout:
		return "Finalizing your booking now.", nil
	case domain.StateDone:
		if id := state.Slots[domain.SlotBookingID].Value; id != "" {
			return fmt.Sprintf("You're booked! Your reference is %s.", id), nil
		}
		return "You're all set.", nil
	case domain.StateHandoff:
		return "I'm connecting you with a member of our team. They'll be with you shortly.", nil
	}
	return "", fmt.Errorf("no template for state %q", state.FSMState)
}

func failureText(r *domain.ToolResult) string {
	switch r.Code() {
	case domain.CodeRateLimited:
		return "You've reached the booking limit for now. Please try again later."
	case domain.CodeToolPermanent:
		return "Sorry, that didn't work. Could we try a different day or time?"
	}
	return "Sorry, I'm having trouble reaching the booking system. Let me try that again in a moment."
}

func summary(state *domain.ConversationState) string {
	var parts []string
	if s := state.Slots[domain.SlotService].Value; s != "" {
		parts = append(parts, s)
	}
	if n := state.Slots[domain.SlotPartySize].Value; n != "" {
		parts = append(parts, "a table for "+n)
	}
	if d := state.Slots[domain.SlotDate].Value; d != "" {
		parts = append(parts, "on "+d)
	}
	if t := state.Slots[domain.SlotTime].Value; t != "" {
		parts = append(parts, "at "+t)
	}
	if c := state.Slots[domain.SlotCustomerName].Value; c != "" {
		parts = append(parts, "for "+c)
	}
	if len(parts) == 0 {
		return "I have your request."
	}
	return "I have " + strings.Join(parts, " ") + "."
}

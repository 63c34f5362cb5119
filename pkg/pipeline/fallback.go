package pipeline

import (
	"fmt"
	"strings"

	"github.com/aretw0/concierge/pkg/domain"
)

var questions = map[domain.SlotName]string{
	domain.SlotService:      "Which service would you like to book?",
	domain.SlotDate:         "What day works for you?",
	domain.SlotTime:         "What time would you like?",
	domain.SlotCustomerName: "What name should I put the booking under?",
	domain.SlotEmail:        "What email address should we use?",
	domain.SlotPhone:        "What phone number can we reach you on? Please include the country code.",
	domain.SlotPartySize:    "How many people will there be?",
	domain.SlotBookingID:    "What is your booking reference?",
}

// Question returns the prompt that asks for one slot.
func Question(slot string) string {
	if q, ok := questions[domain.SlotName(slot)]; ok {
		return q
	}
	return fmt.Sprintf("Could you tell me the %s?", strings.ReplaceAll(slot, "_", " "))
}

// FirstMissing returns the first required slot the state lacks.
func FirstMissing(state *domain.ConversationState, required []domain.SlotName) (domain.SlotName, bool) {
	for _, s := range required {
		if !state.Slots.Has(s) {
			return s, true
		}
	}
	return "", false
}

// Fallback produces the deterministic reply used when pipeline output is
// discarded: re-ask for confirmation, or for the first missing slot.
func Fallback(state *domain.ConversationState, required []domain.SlotName) (text string, missing []string) {
	if state.FSMState == domain.StateConfirming {
		return "Sorry, I didn't catch that. Shall I go ahead with the booking? Please answer yes or no.", nil
	}
	if slot, ok := FirstMissing(state, required); ok {
		return "Sorry, I didn't quite get that. " + Question(string(slot)), []string{string(slot)}
	}
	return "Sorry, I didn't quite get that. Could you rephrase?", nil
}

// Stalled produces the reply used when a tool call outlives the turn. The
// call stays pending and is retried on the next message.
func Stalled(state *domain.ConversationState, required []domain.SlotName) (text string, missing []string) {
	if slot, ok := FirstMissing(state, required); ok {
		return "That's taking longer than expected. " + Question(string(slot)), []string{string(slot)}
	}
	return "That's taking longer than expected. Send me any message in a moment and I'll check again.", nil
}

// Unavailable is the re-ask after an availability check finds the slot taken.
const Unavailable = "Sorry, that time is fully booked. What other day or time works for you?"

package pipeline

import (
	"context"
	"regexp"
	"strings"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/policy"
)

// Confidence levels of the legacy variant.
const (
	LegacyMatched   = 0.9
	LegacyUnmatched = 0.2
)

type intentRule struct {
	intent  string
	pattern *regexp.Regexp
}

// Rules are checked in order; the first match wins.
var intentRules = []intentRule{
	{IntentHandoff, regexp.MustCompile(`(?i)\b(human|agent|operator|representative|real person|someone)\b`)},
	{IntentCancel, regexp.MustCompile(`(?i)\b(cancel|never ?mind|forget it)\b`)},
	{IntentEdit, regexp.MustCompile(`(?i)\b(change|edit|modify|instead|different)\b`)},
	{IntentConfirm, regexp.MustCompile(`(?i)^\s*(yes|yep|yeah|sure|confirm|correct|ok|okay|sounds good|perfect|go ahead)\b`)},
	{IntentBook, regexp.MustCompile(`(?i)\b(book|booking|reserve|reservation|appointment|table|schedule)\b`)},
}

const months = `(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?`

type extractor struct {
	slot    domain.SlotName
	pattern *regexp.Regexp
	group   int
}

var extractors = []extractor{
	{domain.SlotEmail, regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`), 0},
	{domain.SlotPhone, regexp.MustCompile(`(?:\+|\b00)\d[\d\s().-]{6,}\d`), 0},
	{domain.SlotBookingID, regexp.MustCompile(`\b([A-Z]{1,3}-\d{3,})\b`), 1},
	{domain.SlotTime, regexp.MustCompile(`(?i)\b(\d{1,2}(?::\d{2})?\s*(?:am|pm|a\.m\.|p\.m\.)|\d{1,2}:\d{2}|noon|midnight)`), 1},
	{domain.SlotDate, regexp.MustCompile(`(?i)\b(day after tomorrow|today|tomorrow|(?:next\s+)?(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday)|\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{4}|in \d+ days?|` + months + `\s+\d{1,2}(?:st|nd|rd|th)?|\d{1,2}(?:st|nd|rd|th)?\s+(?:of\s+)?` + months + `)`), 1},
	{domain.SlotPartySize, regexp.MustCompile(`(?i)\b(?:for|party of|table for)\s+(\d{1,2}|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve)\b(?:\s+(?:people|persons|guests))?`), 1},
	{domain.SlotPartySize, regexp.MustCompile(`(?i)\b(\d{1,2}|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve)\s+(?:people|persons|guests)\b`), 1},
	{domain.SlotCustomerName, regexp.MustCompile(`(?i)\b(?:my name is|name is|this is|under the name)\s+([a-z][a-z'-]+(?:\s+[a-z][a-z'-]+)?)`), 1},
	{domain.SlotService, regexp.MustCompile(`(?i)\b(haircut|hair cut|manicure|pedicure|colou?ring|blowout|massage|facial|beard trim)\b`), 1},
}

// Legacy is the rule-based variant: keyword intents, regex slot extraction
// and a fixed planning rule per state.
type Legacy struct{}

// NewLegacy creates the legacy variant.
func NewLegacy() *Legacy {
	return &Legacy{}
}

func (l *Legacy) Name() domain.Route { return domain.RouteLegacy }

// Run never fails; unrecognized messages yield low confidence.
func (l *Legacy) Run(ctx context.Context, in Input) (Output, error) {
	text := in.Turn.Text
	out := Output{Slots: make(map[string]string)}

	for _, rule := range intentRules {
		if rule.pattern.MatchString(text) {
			out.Intent = rule.intent
			break
		}
	}

	for _, ex := range extractors {
		if _, done := out.Slots[string(ex.slot)]; done {
			continue
		}
		m := ex.pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		out.Slots[string(ex.slot)] = strings.TrimSpace(m[ex.group])
	}

	matched := out.Intent != "" || len(out.Slots) > 0
	switch {
	case out.Intent == "" && len(out.Slots) > 0:
		out.Intent = IntentProvideInfo
	case out.Intent == "":
		out.Intent = IntentUnknown
	}
	out.Confidence = LegacyUnmatched
	if matched {
		out.Confidence = LegacyMatched
	}

	out.Calls = l.plan(in, out)
	return out, nil
}

// plan proposes tools from the state the turn will land in.
func (l *Legacy) plan(in Input, out Output) []CandidateCall {
	state := domain.StateStart
	if in.State != nil {
		state = in.State.FSMState
	}
	hasBookingID := out.Slots[string(domain.SlotBookingID)] != "" || (in.State != nil && in.State.Slots.Has(domain.SlotBookingID))

	switch {
	case state == domain.StateConfirming && out.Intent == IntentConfirm:
		return []CandidateCall{{Name: policy.ToolCreateBooking}}
	case state == domain.StateCollecting && out.Intent == IntentCancel && hasBookingID:
		return []CandidateCall{{Name: policy.ToolCancelBooking}}
	case state == domain.StateCollecting:
		return []CandidateCall{{Name: policy.ToolCheckAvailability}}
	}
	return nil
}

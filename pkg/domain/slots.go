package domain

// SlotName is the closed set of canonical slot names.
type SlotName string

const (
	SlotService      SlotName = "service"
	SlotDate         SlotName = "date"
	SlotTime         SlotName = "time"
	SlotCustomerName SlotName = "customer_name"
	SlotEmail        SlotName = "email"
	SlotPhone        SlotName = "phone"
	SlotPartySize    SlotName = "party_size"
	SlotBookingID    SlotName = "booking_id"
)

// AllSlots lists every canonical slot name in a stable order.
var AllSlots = []SlotName{
	SlotService,
	SlotDate,
	SlotTime,
	SlotCustomerName,
	SlotEmail,
	SlotPhone,
	SlotPartySize,
	SlotBookingID,
}

// ParseSlotName maps a raw key onto the closed enumeration.
func ParseSlotName(raw string) (SlotName, bool) {
	for _, s := range AllSlots {
		if string(s) == raw {
			return s, true
		}
	}
	return "", false
}

// SlotSource records who produced a slot value.
type SlotSource string

const (
	SourceUser SlotSource = "user"
	SourceTool SlotSource = "tool"
)

// Slot is a normalized value plus its provenance.
type Slot struct {
	Value  string     `json:"value"`
	Source SlotSource `json:"source"`
}

// Slots maps canonical names to normalized values.
type Slots map[SlotName]Slot

// Values flattens the slots into a plain map, used as tool arguments.
func (s Slots) Values() map[string]any {
	out := make(map[string]any, len(s))
	for k, v := range s {
		out[string(k)] = v.Value
	}
	return out
}

// Has reports whether a non-empty value is present for name.
func (s Slots) Has(name SlotName) bool {
	v, ok := s[name]
	return ok && v.Value != ""
}

package slots

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/go-playground/validator/v10"
)

// MaxTextLen bounds free-text slots (service, customer_name, booking_id).
const MaxTextLen = 120

// Party size limits.
const (
	MinPartySize = 1
	MaxPartySize = 50
)

// ErrInvalid is returned (wrapped) when a raw value cannot be normalized.
var ErrInvalid = errors.New("invalid slot value")

// InvalidError describes a rejected raw value.
type InvalidError struct {
	Slot   domain.SlotName
	Raw    string
	Reason string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Slot, e.Raw, e.Reason)
}

func (e *InvalidError) Unwrap() error { return ErrInvalid }

type normalizeFunc func(n *Normalizer, raw string) (string, error)

var normalizers = map[domain.SlotName]normalizeFunc{
	domain.SlotService:      (*Normalizer).text,
	domain.SlotDate:         (*Normalizer).date,
	domain.SlotTime:         (*Normalizer).clock,
	domain.SlotCustomerName: (*Normalizer).text,
	domain.SlotEmail:        (*Normalizer).email,
	domain.SlotPhone:        (*Normalizer).phone,
	domain.SlotPartySize:    (*Normalizer).partySize,
	domain.SlotBookingID:    (*Normalizer).text,
}

var validate = validator.New()

// Normalizer converts raw slot text into canonical values.
// Relative dates are resolved against Now in Location.
type Normalizer struct {
	Now      func() time.Time
	Location *time.Location
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithClock sets the time source used for relative dates.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		n.Now = now
	}
}

// WithLocation sets the time zone in which relative dates are resolved.
func WithLocation(loc *time.Location) Option {
	return func(n *Normalizer) {
		n.Location = loc
	}
}

// New creates a Normalizer using the wall clock in UTC by default.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		Now:      time.Now,
		Location: time.UTC,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize returns the canonical form of raw for the named slot.
func (n *Normalizer) Normalize(name domain.SlotName, raw string) (string, error) {
	fn, ok := normalizers[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrUnknownSlot, name)
	}
	out, err := fn(n, raw)
	if err != nil {
		var inv *InvalidError
		if errors.As(err, &inv) {
			inv.Slot = name
			inv.Raw = raw
		}
		return "", err
	}
	return out, nil
}

// NormalizeRaw resolves an untyped slot key before normalizing.
func (n *Normalizer) NormalizeRaw(key, raw string) (domain.SlotName, string, error) {
	name, ok := domain.ParseSlotName(strings.ToLower(strings.TrimSpace(key)))
	if !ok {
		return "", "", fmt.Errorf("%w: %s", domain.ErrUnknownSlot, key)
	}
	out, err := n.Normalize(name, raw)
	return name, out, err
}

func invalid(reason string) error {
	return &InvalidError{Reason: reason}
}

func (n *Normalizer) today() time.Time {
	now := n.Now().In(n.Location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, n.Location)
}

var spaces = regexp.MustCompile(`\s+`)

func collapse(raw string) string {
	return spaces.ReplaceAllString(strings.TrimSpace(raw), " ")
}

func (n *Normalizer) text(raw string) (string, error) {
	v := collapse(raw)
	if v == "" {
		return "", invalid("empty")
	}
	if utf8.RuneCountInString(v) > MaxTextLen {
		return "", invalid("too long")
	}
	return v, nil
}

func (n *Normalizer) email(raw string) (string, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if err := validate.Var(v, "required,email"); err != nil {
		return "", invalid("not an email address")
	}
	return v, nil
}

var (
	phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "", "/", "")
	phonePattern    = regexp.MustCompile(`^\+[0-9]{8,15}$`)
)

func (n *Normalizer) phone(raw string) (string, error) {
	v := phoneSeparators.Replace(strings.TrimSpace(raw))
	if strings.HasPrefix(v, "00") {
		v = "+" + v[2:]
	}
	if !phonePattern.MatchString(v) {
		return "", invalid("expected + followed by 8 to 15 digits")
	}
	return v, nil
}

var numberWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12,
}

var partyNouns = map[string]bool{
	"people": true, "persons": true, "person": true, "guests": true, "guest": true, "pax": true,
}

func parseCount(token string) (int, bool) {
	if v, ok := numberWords[token]; ok {
		return v, true
	}
	v, err := strconv.Atoi(token)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (n *Normalizer) partySize(raw string) (string, error) {
	fields := strings.Fields(strings.ToLower(raw))
	if len(fields) == 0 || len(fields) > 2 {
		return "", invalid("expected a number")
	}
	if len(fields) == 2 && !partyNouns[fields[1]] {
		return "", invalid("expected a number")
	}
	v, ok := parseCount(fields[0])
	if !ok {
		return "", invalid("expected a number")
	}
	if v < MinPartySize || v > MaxPartySize {
		return "", invalid(fmt.Sprintf("must be between %d and %d", MinPartySize, MaxPartySize))
	}
	return strconv.Itoa(v), nil
}

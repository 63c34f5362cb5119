package slots

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Wednesday.
var fixedNow = time.Date(2026, time.October, 14, 9, 30, 0, 0, time.UTC)

func newTestNormalizer() *Normalizer {
	return New(WithClock(func() time.Time { return fixedNow }))
}

func TestNormalize_Date(t *testing.T) {
	n := newTestNormalizer()

	tests := []struct {
		raw  string
		want string
	}{
		{"today", "2026-10-14"},
		{"Tomorrow", "2026-10-15"},
		{"day after tomorrow", "2026-10-16"},
		{"in 3 days", "2026-10-17"},
		{"in two days", "2026-10-16"},
		{"friday", "2026-10-16"},
		{"next Friday", "2026-10-16"},
		{"wednesday", "2026-10-21"},
		{"2026-11-02", "2026-11-02"},
		{"15/10/2026", "2026-10-15"},
		{"Oct 20", "2026-10-20"},
		{"20 October", "2026-10-20"},
		{"October 20th", "2026-10-20"},
		{"January 5 2027", "2027-01-05"},
		{"Jan 3", "2027-01-03"},
		{"on the 3rd of january", ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := n.Normalize(domain.SlotDate, tt.raw)
			if tt.want == "" {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_DateLeapDay(t *testing.T) {
	n := newTestNormalizer()
	got, err := n.Normalize(domain.SlotDate, "Feb 29")
	require.NoError(t, err)
	assert.Equal(t, "2028-02-29", got)
}

func TestNormalize_Time(t *testing.T) {
	n := newTestNormalizer()

	tests := []struct {
		raw  string
		want string
	}{
		{"15:00", "15:00"},
		{"9:05", "09:05"},
		{"3pm", "15:00"},
		{"3:30 pm", "15:30"},
		{"3 p.m.", "15:00"},
		{"12am", "00:00"},
		{"12pm", "12:00"},
		{"noon", "12:00"},
		{"midnight", "00:00"},
		{"1530", "15:30"},
		{"at 10am", "10:00"},
		{"25:00", ""},
		{"13pm", ""},
		{"3", ""},
		{"later", ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := n.Normalize(domain.SlotTime, tt.raw)
			if tt.want == "" {
				assert.ErrorIs(t, err, ErrInvalid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_Contact(t *testing.T) {
	n := newTestNormalizer()

	t.Run("email lower-cased", func(t *testing.T) {
		got, err := n.Normalize(domain.SlotEmail, "  Ana.Souza@Example.COM ")
		require.NoError(t, err)
		assert.Equal(t, "ana.souza@example.com", got)
	})

	t.Run("email rejected", func(t *testing.T) {
		_, err := n.Normalize(domain.SlotEmail, "not-an-email")
		var inv *InvalidError
		require.ErrorAs(t, err, &inv)
		assert.Equal(t, domain.SlotEmail, inv.Slot)
		assert.Equal(t, "not-an-email", inv.Raw)
	})

	t.Run("phone separators stripped", func(t *testing.T) {
		got, err := n.Normalize(domain.SlotPhone, "+55 (11) 98765-4321")
		require.NoError(t, err)
		assert.Equal(t, "+5511987654321", got)
	})

	t.Run("phone international prefix", func(t *testing.T) {
		got, err := n.Normalize(domain.SlotPhone, "0044 20 7946 0958")
		require.NoError(t, err)
		assert.Equal(t, "+442079460958", got)
	})

	t.Run("phone too short", func(t *testing.T) {
		_, err := n.Normalize(domain.SlotPhone, "+123")
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("phone without country code", func(t *testing.T) {
		_, err := n.Normalize(domain.SlotPhone, "98765-4321")
		assert.ErrorIs(t, err, ErrInvalid)
	})
}

func TestNormalize_PartySize(t *testing.T) {
	n := newTestNormalizer()

	for raw, want := range map[string]string{"4": "4", "four": "4", "12 people": "12", "50": "50"} {
		got, err := n.Normalize(domain.SlotPartySize, raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	for _, raw := range []string{"0", "51", "-2", "a few", "4 tables"} {
		_, err := n.Normalize(domain.SlotPartySize, raw)
		assert.ErrorIs(t, err, ErrInvalid, raw)
	}
}

func TestNormalize_Text(t *testing.T) {
	n := newTestNormalizer()

	got, err := n.Normalize(domain.SlotCustomerName, "  Ana   Souza ")
	require.NoError(t, err)
	assert.Equal(t, "Ana Souza", got)

	_, err = n.Normalize(domain.SlotService, "   ")
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = n.Normalize(domain.SlotBookingID, strings.Repeat("x", MaxTextLen+1))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestNormalize_UnknownSlot(t *testing.T) {
	n := newTestNormalizer()

	_, err := n.Normalize(domain.SlotName("shoe_size"), "42")
	assert.True(t, errors.Is(err, domain.ErrUnknownSlot))

	_, _, err = n.NormalizeRaw("shoe_size", "42")
	assert.ErrorIs(t, err, domain.ErrUnknownSlot)

	name, v, err := n.NormalizeRaw(" Email ", "A@B.CO")
	require.NoError(t, err)
	assert.Equal(t, domain.SlotEmail, name)
	assert.Equal(t, "a@b.co", v)
}

func TestEverySlotHasNormalizer(t *testing.T) {
	for _, name := range domain.AllSlots {
		_, ok := normalizers[name]
		assert.True(t, ok, "missing normalizer for %s", name)
	}
}

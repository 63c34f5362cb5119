package slots

import (
	"regexp"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

var (
	ordinalSuffix = regexp.MustCompile(`\b(\d{1,2})(st|nd|rd|th)\b`)
	inDays        = regexp.MustCompile(`^in (\w+) days?$`)
)

// Layouts that carry a year.
var fullLayouts = []string{
	dateLayout,
	"2/1/2006",
	"2-1-2006",
	"Jan 2 2006",
	"January 2 2006",
	"2 Jan 2006",
	"2 January 2006",
}

// Layouts without a year resolve to the next occurrence on or after today.
var monthDayLayouts = []string{
	"Jan 2",
	"January 2",
	"2 Jan",
	"2 January",
	"2/1",
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

func (n *Normalizer) date(raw string) (string, error) {
	v := strings.ToLower(collapse(raw))
	v = strings.TrimRight(v, ".!?")
	v = strings.ReplaceAll(v, ",", "")
	v = strings.TrimPrefix(v, "on ")
	v = ordinalSuffix.ReplaceAllString(v, "$1")
	v = strings.TrimSpace(strings.ReplaceAll(v, " of ", " "))
	if v == "" {
		return "", invalid("empty")
	}

	today := n.today()

	switch v {
	case "today":
		return today.Format(dateLayout), nil
	case "tomorrow":
		return today.AddDate(0, 0, 1).Format(dateLayout), nil
	case "day after tomorrow", "the day after tomorrow":
		return today.AddDate(0, 0, 2).Format(dateLayout), nil
	}

	if m := inDays.FindStringSubmatch(v); m != nil {
		days, ok := parseCount(m[1])
		if m[1] == "a" {
			days, ok = 1, true
		}
		if !ok || days < 0 {
			return "", invalid("unrecognized day count")
		}
		return today.AddDate(0, 0, days).Format(dateLayout), nil
	}

	if day, ok := weekdays[strings.TrimPrefix(strings.TrimPrefix(v, "next "), "this ")]; ok {
		delta := (int(day) - int(today.Weekday()) + 7) % 7
		if delta == 0 {
			delta = 7
		}
		return today.AddDate(0, 0, delta).Format(dateLayout), nil
	}

	for _, layout := range fullLayouts {
		if t, err := time.ParseInLocation(layout, v, n.Location); err == nil {
			return t.Format(dateLayout), nil
		}
	}

	for _, layout := range monthDayLayouts {
		t, err := time.ParseInLocation(layout, v, n.Location)
		if err != nil {
			continue
		}
		if d, ok := nextOccurrence(today, t.Month(), t.Day()); ok {
			return d.Format(dateLayout), nil
		}
	}

	return "", invalid("unrecognized date")
}

// nextOccurrence finds the first month/day on or after today. Leap days may
// need several years to come around.
func nextOccurrence(today time.Time, month time.Month, day int) (time.Time, bool) {
	for year := today.Year(); year <= today.Year()+8; year++ {
		d := time.Date(year, month, day, 0, 0, 0, 0, today.Location())
		if d.Month() != month {
			continue
		}
		if !d.Before(today) {
			return d, true
		}
	}
	return time.Time{}, false
}

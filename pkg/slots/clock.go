package slots

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	meridiemTime = regexp.MustCompile(`^(\d{1,2})(?:[:.](\d{2}))?\s*(am|pm|a\.m\.?|p\.m\.?)$`)
	clockTime    = regexp.MustCompile(`^(\d{1,2})[:h.](\d{2})$`)
	compactTime  = regexp.MustCompile(`^(\d{1,2})(\d{2})$`)
)

func (n *Normalizer) clock(raw string) (string, error) {
	v := strings.ToLower(collapse(raw))
	v = strings.TrimPrefix(v, "at ")
	v = strings.TrimSuffix(v, " o'clock")

	switch v {
	case "noon", "midday":
		return "12:00", nil
	case "midnight":
		return "00:00", nil
	}

	if m := meridiemTime.FindStringSubmatch(v); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if hour < 1 || hour > 12 || minute > 59 {
			return "", invalid("out of range")
		}
		if hour == 12 {
			hour = 0
		}
		if strings.HasPrefix(m[3], "p") {
			hour += 12
		}
		return format(hour, minute), nil
	}

	m := clockTime.FindStringSubmatch(v)
	if m == nil {
		m = compactTime.FindStringSubmatch(v)
	}
	if m == nil {
		return "", invalid("unrecognized time")
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	if hour > 23 || minute > 59 {
		return "", invalid("out of range")
	}
	return format(hour, minute), nil
}

func format(hour, minute int) string {
	return fmt.Sprintf("%02d:%02d", hour, minute)
}

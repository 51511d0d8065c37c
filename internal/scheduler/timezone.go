package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// LocalDateTimeLayout is the wall clock form accepted by Create.
const LocalDateTimeLayout = "2006-01-02T15:04"

var offsetPattern = regexp.MustCompile(`^(?:UTC)?([+-])(\d{1,2}):?(\d{2})$`)

// ParseZone turns "+05:30", "UTC-03:00", "Z" or an IANA name into a location.
// Offsets produce a fixed zone; names go through the tz database.
func ParseZone(s string) (*time.Location, error) {
	s = strings.TrimSpace(s)
	switch strings.ToUpper(s) {
	case "", "Z", "UTC", "+00:00":
		return time.UTC, nil
	}

	if m := offsetPattern.FindStringSubmatch(strings.ToUpper(s)); m != nil {
		hours, _ := strconv.Atoi(m[2])
		minutes, _ := strconv.Atoi(m[3])
		if hours > 14 || minutes > 59 {
			return nil, fmt.Errorf("utc offset out of range: %q", s)
		}
		secs := hours*3600 + minutes*60
		if m[1] == "-" {
			secs = -secs
		}
		return time.FixedZone(fmt.Sprintf("UTC%s%02d:%02d", m[1], hours, minutes), secs), nil
	}

	loc, err := time.LoadLocation(s)
	if err != nil {
		return nil, fmt.Errorf("invalid zone %q: %w", s, err)
	}
	return loc, nil
}

// ParseLocalDateTime reads a wall clock value in loc and returns the UTC instant.
// Seconds are optional.
func ParseLocalDateTime(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{LocalDateTimeLayout, "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid local datetime %q (expected YYYY-MM-DDTHH:MM)", value)
}

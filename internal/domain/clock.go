package domain

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// TimeRange is a half-open [Start, End) span.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

func (r TimeRange) Contains(start, end time.Time) bool {
	return !start.Before(r.Start) && !end.After(r.End)
}

// ParseClock parses "HH:MM" (seconds are ignored when present) into minutes
// after midnight.
func ParseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	if len(s) > 5 {
		s = s[:5]
	}
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, errors.New("invalid time of day: " + s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 24 {
		return 0, errors.New("invalid hour: " + s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, errors.New("invalid minute: " + s)
	}
	if h == 24 && m != 0 {
		return 0, errors.New("invalid time of day: " + s)
	}
	return h*60 + m, nil
}

// CivilDate truncates t to its calendar date in t's own location, returned
// as midnight UTC so dates compare independently of zones.
func CivilDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// AtClock builds the instant for minutes-after-midnight on the civil date in loc.
func AtClock(date time.Time, minutes int, loc *time.Location) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), 0, minutes, 0, 0, loc)
}

// ISOWeekday returns 1 for Monday through 7 for Sunday.
func ISOWeekday(t time.Time) int16 {
	if t.Weekday() == time.Sunday {
		return 7
	}
	return int16(t.Weekday())
}

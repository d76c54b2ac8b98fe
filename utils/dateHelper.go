package utils

import (
	"fmt"
	"strings"
	"time"
)

const DateLayout = time.DateOnly

// ParseDate parses a YYYY-MM-DD string into a UTC midnight time.
func ParseDate(value string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", value, err)
	}
	return t, nil
}

func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// DateOnly drops the clock part but keeps the calendar day as seen in t's location,
// then pins the result to UTC.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ConvertToDate returns the calendar day of t as observed in timezone.
func ConvertToDate(t time.Time, timezone string) (time.Time, error) {
	if timezone == "" {
		timezone = "Asia/Hong_Kong"
	}
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return t, err
	}
	return DateOnly(t.In(location)), nil
}

// PreviousMonthEnd returns the last day of the calendar month before t.
func PreviousMonthEnd(t time.Time) time.Time {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return first.AddDate(0, 0, -1)
}

// DaysInclusive counts calendar days in [from, to]; zero when to is before from.
func DaysInclusive(from, to time.Time) int {
	from, to = DateOnly(from), DateOnly(to)
	if to.Before(from) {
		return 0
	}
	return int(to.Sub(from).Hours()/24) + 1
}

// YearAgo returns the same calendar day one year earlier, clamping Feb 29 to Feb 28.
func YearAgo(t time.Time) time.Time {
	t = DateOnly(t)
	y, m, d := t.Date()
	if last := time.Date(y-1, m+1, 0, 0, 0, 0, 0, time.UTC).Day(); d > last {
		d = last
	}
	return time.Date(y-1, m, d, 0, 0, 0, 0, time.UTC)
}

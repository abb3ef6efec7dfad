package models

import (
	"fmt"
	"time"
)

// DateLayout is the wire and storage format of calendar dates.
const DateLayout = "2006-01-02"

var (
	// MaxDate is the open end of the last interval of a balance timeline.
	MaxDate = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)
	// MinDate is the watermark used before anything has been synced.
	MinDate = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)
)

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Date builds a calendar date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// FormatDate renders a calendar date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// IntervalUnit is the granularity of a recurrence or reporting bucket.
type IntervalUnit string

const (
	UnitDays   IntervalUnit = "days"
	UnitWeeks  IntervalUnit = "weeks"
	UnitMonths IntervalUnit = "months"
	UnitYears  IntervalUnit = "years"
)

// Valid reports whether u is a known unit.
func (u IntervalUnit) Valid() bool {
	switch u {
	case UnitDays, UnitWeeks, UnitMonths, UnitYears:
		return true
	}
	return false
}

// AddTo advances a date by n units. Month and year steps clamp to the last day
// of the target month (Jan 31 + 1 month = Feb 28/29).
func (u IntervalUnit) AddTo(t time.Time, n int) time.Time {
	switch u {
	case UnitDays:
		return t.AddDate(0, 0, n)
	case UnitWeeks:
		return t.AddDate(0, 0, 7*n)
	case UnitMonths:
		return addMonths(t, n)
	case UnitYears:
		return addMonths(t, 12*n)
	default:
		panic(fmt.Sprintf("unknown interval unit %q", string(u)))
	}
}

func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// DateInterval is a closed range of calendar dates.
type DateInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewDateInterval returns [start, end] truncated to calendar days.
func NewDateInterval(start, end time.Time) DateInterval {
	return DateInterval{Start: Day(start), End: Day(end)}
}

// Contains reports whether d falls inside the interval (inclusive).
func (i DateInterval) Contains(d time.Time) bool {
	return !d.Before(i.Start) && !d.After(i.End)
}

// Days returns the inclusive number of calendar days covered.
func (i DateInterval) Days() int {
	return int(i.End.Sub(i.Start).Hours()/24) + 1
}

func (i DateInterval) String() string {
	return FormatDate(i.Start) + ".." + FormatDate(i.End)
}

package recurrence

import (
	"errors"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar date without time of day or location. All recurrence
// arithmetic happens on Dates so that time-of-day and DST shifts never leak
// into day counts.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// NewDate builds a Date, normalizing overflowing values the way time.Date does.
func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// ParseDate accepts "2006-01-02" or an RFC 3339 timestamp.
func ParseDate(s string) (Date, error) {
	if s == "" {
		return Date{}, errors.New("empty date")
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return DateOf(t), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

// In returns midnight of d in loc. A nil loc means UTC.
func (d Date) In(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// AddDays returns d shifted by n days.
func (d Date) AddDays(n int) Date {
	return NewDate(d.Year, d.Month, d.Day+n)
}

// Weekday returns the day of the week of d.
func (d Date) Weekday() time.Weekday {
	return d.In(time.UTC).Weekday()
}

// Before reports whether d is strictly earlier than o.
func (d Date) Before(o Date) bool { return d.days() < o.days() }

// After reports whether d is strictly later than o.
func (d Date) After(o Date) bool { return d.days() > o.days() }

// DaysUntil returns the signed number of whole days from d to o.
func (d Date) DaysUntil(o Date) int { return o.days() - d.days() }

func (d Date) String() string {
	return d.In(time.UTC).Format(dateLayout)
}

// MarshalText renders d as YYYY-MM-DD.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText accepts YYYY-MM-DD or RFC 3339.
func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// days is the day number since 1970-01-01. Midnight UTC is always an exact
// multiple of 86400 seconds, so the division is exact for negative values too.
func (d Date) days() int {
	return int(d.In(time.UTC).Unix() / 86400)
}

// monthIndex is year*12 + zero-based month, used for signed month differences.
func (d Date) monthIndex() int {
	return d.Year*12 + int(d.Month) - 1
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

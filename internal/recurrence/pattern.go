package recurrence

import (
	"fmt"
	"math/bits"
	"strings"
	"time"
)

// Frequency is the unit a pattern repeats in.
type Frequency uint8

const (
	Daily Frequency = iota + 1
	Weekly
	Monthly
)

func (f Frequency) String() string {
	switch f {
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	default:
		return fmt.Sprintf("Frequency(%d)", uint8(f))
	}
}

func (f Frequency) valid() bool {
	return f >= Daily && f <= Monthly
}

// ParseFrequency parses "daily", "weekly" or "monthly" (case-insensitive).
func ParseFrequency(s string) (Frequency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily":
		return Daily, nil
	case "weekly":
		return Weekly, nil
	case "monthly":
		return Monthly, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidFrequency, s)
}

// Weekdays is a set of weekdays, bit i set for time.Weekday(i).
type Weekdays uint8

const allWeekdays Weekdays = 1<<7 - 1

// NewWeekdays builds a set from the given days.
func NewWeekdays(days ...time.Weekday) Weekdays {
	var w Weekdays
	for _, d := range days {
		w |= 1 << uint(d)
	}
	return w
}

// Has reports whether d is in the set.
func (w Weekdays) Has(d time.Weekday) bool {
	return w&(1<<uint(d)) != 0
}

// Len returns the number of days in the set.
func (w Weekdays) Len() int {
	return bits.OnesCount8(uint8(w))
}

// Days lists the set in Sunday-first order.
func (w Weekdays) Days() []time.Weekday {
	out := make([]time.Weekday, 0, w.Len())
	for d := time.Sunday; d <= time.Saturday; d++ {
		if w.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

// countRange counts members in the weekday range [lo, hi).
func (w Weekdays) countRange(lo, hi int) int {
	if hi <= lo {
		return 0
	}
	mask := Weekdays((1<<uint(hi))-1) &^ Weekdays((1<<uint(lo))-1)
	return (w & mask).Len()
}

type endKind uint8

const (
	endNever endKind = iota
	endOnDate
	endAfterCount
)

// End is the rule that terminates a recurrence: never, on a date
// (inclusive) or after a number of occurrences.
type End struct {
	kind  endKind
	date  Date
	count int
}

// Never returns an End that repeats indefinitely.
func Never() End { return End{} }

// Until ends the recurrence after the calendar date of t (inclusive).
func Until(t time.Time) End { return End{kind: endOnDate, date: DateOf(t)} }

// UntilDate is Until for a Date.
func UntilDate(d Date) End { return End{kind: endOnDate, date: d} }

// AfterCount ends the recurrence after n occurrences.
func AfterCount(n int) End { return End{kind: endAfterCount, count: n} }

// IsNever reports whether the recurrence repeats indefinitely.
func (e End) IsNever() bool { return e.kind == endNever }

// Date returns the inclusive end date, if that is the end condition.
func (e End) Date() (Date, bool) {
	return e.date, e.kind == endOnDate
}

// Count returns the occurrence limit, if that is the end condition.
func (e End) Count() (int, bool) {
	return e.count, e.kind == endAfterCount
}

func (e End) String() string {
	switch e.kind {
	case endOnDate:
		return "until " + e.date.String()
	case endAfterCount:
		return fmt.Sprintf("after %d", e.count)
	default:
		return "never"
	}
}

// Pattern is an immutable, validated recurrence pattern. The zero value is
// not usable; build one with NewPattern or Spec.Pattern.
type Pattern struct {
	freq     Frequency
	interval int
	days     Weekdays
	end      End
}

// NewPattern validates and returns a Pattern. days may be zero, meaning
// "same weekday as the anchor"; it must be zero for non-weekly patterns.
func NewPattern(freq Frequency, interval int, days Weekdays, end End) (Pattern, error) {
	if !freq.valid() {
		return Pattern{}, invalid("frequency", ErrInvalidFrequency)
	}
	if interval < 1 {
		return Pattern{}, invalid("interval", ErrInvalidInterval)
	}
	if days&^allWeekdays != 0 || (days != 0 && freq != Weekly) {
		return Pattern{}, invalid("daysOfWeek", ErrInvalidWeekdaySet)
	}
	if n, ok := end.Count(); ok && n < 1 {
		return Pattern{}, invalid("occurrences", ErrInvalidOccurrenceCount)
	}
	return Pattern{freq: freq, interval: interval, days: days, end: end}, nil
}

// MustPattern is NewPattern that panics on error. Intended for tests and
// package-level fixtures.
func MustPattern(freq Frequency, interval int, days Weekdays, end End) Pattern {
	p, err := NewPattern(freq, interval, days, end)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Pattern) Frequency() Frequency { return p.freq }
func (p Pattern) Interval() int { return p.interval }
func (p Pattern) End() End { return p.end }

// Weekdays returns the explicit weekday set and whether one was given.
func (p Pattern) Weekdays() (Weekdays, bool) {
	return p.days, p.days != 0
}

func (p Pattern) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s every %d", p.freq, p.interval)
	if p.days != 0 {
		names := make([]string, 0, p.days.Len())
		for _, d := range p.days.Days() {
			names = append(names, d.String()[:3])
		}
		b.WriteString(" on " + strings.Join(names, ","))
	}
	if !p.end.IsNever() {
		b.WriteString(", " + p.end.String())
	}
	return b.String()
}

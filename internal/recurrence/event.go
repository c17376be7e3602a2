// Package recurrence decides on which calendar dates a recurring event
// occurs.
//
// Weekly patterns with an explicit weekday set count weeks from the Sunday
// that starts the anchor's week: week w is active when w is a multiple of
// the interval, and any listed weekday on or after the anchor inside an
// active week is an occurrence. The anchor itself is always the first
// occurrence, listed or not.
//
// Monthly patterns anchored on the 29th, 30th or 31st fall on the last day
// of shorter months.
package recurrence

import "time"

// Event is a recurring event: an anchor date (the first occurrence) and the
// pattern it repeats with. Event values are immutable and safe for
// concurrent use.
type Event struct {
	anchor  Date
	pattern Pattern
}

// NewEvent anchors p at the calendar date of anchor. Time of day is dropped.
func NewEvent(anchor time.Time, p Pattern) Event {
	return Event{anchor: DateOf(anchor), pattern: p}
}

// NewEventOn is NewEvent for a Date anchor.
func NewEventOn(anchor Date, p Pattern) Event {
	return Event{anchor: anchor, pattern: p}
}

func (e Event) Anchor() Date { return e.anchor }
func (e Event) Pattern() Pattern { return e.pattern }

// OccursOn reports whether ev has an occurrence on the calendar date of
// candidate, taken in candidate's own location.
func OccursOn(ev Event, candidate time.Time) bool {
	return ev.OccursOnDate(DateOf(candidate))
}

// OccursOn reports whether e has an occurrence on the calendar date of t.
func (e Event) OccursOn(t time.Time) bool {
	return e.OccursOnDate(DateOf(t))
}

// OccursOnDate reports whether e has an occurrence on d.
func (e Event) OccursOnDate(d Date) bool {
	elapsed := e.anchor.DaysUntil(d)
	if elapsed < 0 {
		return false
	}

	p := e.pattern
	if until, ok := p.end.Date(); ok && d.After(until) {
		return false
	}
	if n, ok := p.end.Count(); ok && e.index(d, elapsed) >= n {
		return false
	}

	switch p.freq {
	case Daily:
		return elapsed%p.interval == 0
	case Weekly:
		if p.days == 0 {
			return elapsed%(7*p.interval) == 0
		}
		if elapsed == 0 {
			return true
		}
		return e.weekOf(d)%p.interval == 0 && p.days.Has(d.Weekday())
	case Monthly:
		months := d.monthIndex() - e.anchor.monthIndex()
		return months%p.interval == 0 && d.Day == clampDay(e.anchor.Day, d.Year, d.Month)
	}
	return false
}

// index is the zero-based occurrence slot d falls into. It is only
// meaningful for dates on or after the anchor.
func (e Event) index(d Date, elapsed int) int {
	p := e.pattern
	switch p.freq {
	case Daily:
		return elapsed / p.interval
	case Weekly:
		if p.days == 0 {
			return elapsed / (7 * p.interval)
		}
		return e.weekdaySetIndex(d)
	case Monthly:
		return (d.monthIndex() - e.anchor.monthIndex()) / p.interval
	}
	return 0
}

// weekdaySetIndex counts the occurrences strictly before d for a weekly
// pattern with an explicit weekday set.
func (e Event) weekdaySetIndex(d Date) int {
	p := e.pattern
	aw := int(e.anchor.Weekday())
	cw := int(d.Weekday())
	w := e.weekOf(d)

	n := 0
	// An unlisted anchor is still the first occurrence.
	if !p.days.Has(e.anchor.Weekday()) && d.After(e.anchor) {
		n++
	}

	// Active weeks wholly before d's week; week 0 loses days before the anchor.
	active := (w + p.interval - 1) / p.interval
	n += active * p.days.Len()
	if w > 0 {
		n -= p.days.countRange(0, aw)
	}

	if w%p.interval == 0 {
		lo := 0
		if w == 0 {
			lo = aw
		}
		n += p.days.countRange(lo, cw)
	}
	return n
}

// weekOf returns the number of whole weeks between the Sunday starting the
// anchor's week and d.
func (e Event) weekOf(d Date) int {
	start := e.anchor.days() - int(e.anchor.Weekday())
	return (d.days() - start) / 7
}

func clampDay(day, year int, month time.Month) int {
	if n := daysIn(year, month); day > n {
		return n
	}
	return day
}

// Package calendar builds month views and applies event edits on top of a
// store.
package calendar

import (
	"strings"
	"time"

	"studycal/internal/model"
	"studycal/internal/recurrence"
)

// GridCells is the fixed size of a month view: six weeks.
const GridCells = 42

// Cell is one day of a month grid. Only cells inside the month carry
// events.
type Cell struct {
	Date     recurrence.Date       `json:"date"`
	InMonth  bool                  `json:"inMonth"`
	Today    bool                  `json:"today,omitempty"`
	Events   []model.CalendarEvent `json:"events"`
	External []model.Occurrence    `json:"external,omitempty"`
}

// Grid is a six-week month view.
type Grid struct {
	Year      int          `json:"year"`
	Month     time.Month   `json:"month"`
	WeekStart time.Weekday `json:"weekStart"`
	Timezone  string       `json:"timezone"`
	Cells     []Cell       `json:"cells"`

	// Checks is the number of event/date evaluations made.
	Checks int `json:"-"`
}

// ParseWeekStart maps "monday" to time.Monday and anything else to Sunday.
func ParseWeekStart(s string) time.Weekday {
	if strings.EqualFold(strings.TrimSpace(s), "monday") {
		return time.Monday
	}
	return time.Sunday
}

// MonthGrid lays out year/month as 42 cells starting on weekStart and
// fills in-month cells with the events occurring on them, evaluated in
// loc.
func MonthGrid(year int, month time.Month, weekStart time.Weekday, loc *time.Location, events []model.CalendarEvent) Grid {
	if loc == nil {
		loc = time.UTC
	}
	first := recurrence.NewDate(year, month, 1)
	lead := (int(first.Weekday()) - int(weekStart) + 7) % 7
	start := first.AddDays(-lead)

	g := Grid{
		Year:      year,
		Month:     month,
		WeekStart: weekStart,
		Timezone:  loc.String(),
		Cells:     make([]Cell, GridCells),
	}
	for i := range g.Cells {
		d := start.AddDays(i)
		c := Cell{Date: d, InMonth: d.Month == month && d.Year == year, Events: []model.CalendarEvent{}}
		if c.InMonth {
			c.Events = EventsOn(d, loc, events)
			g.Checks += len(events)
		}
		g.Cells[i] = c
	}
	return g
}

// EventsOn returns the events landing on d in loc, keeping input order.
func EventsOn(d recurrence.Date, loc *time.Location, events []model.CalendarEvent) []model.CalendarEvent {
	t := d.In(loc)
	out := make([]model.CalendarEvent, 0)
	for _, ev := range events {
		if ev.OccursOn(t) {
			out = append(out, ev)
		}
	}
	return out
}

// MarkToday flags the cell for today, if the grid shows it.
func (g *Grid) MarkToday(today recurrence.Date) {
	for i := range g.Cells {
		g.Cells[i].Today = g.Cells[i].Date == today
	}
}

// AddExternal places occurrences on every in-month cell they cover.
// All-day occurrences cover [start, end); timed ones cover the start day
// through the day their end falls on.
func (g *Grid) AddExternal(occs []model.Occurrence, loc *time.Location) {
	if loc == nil {
		loc = time.UTC
	}
	index := make(map[recurrence.Date]int, len(g.Cells))
	for i, c := range g.Cells {
		if c.InMonth {
			index[c.Date] = i
		}
	}
	for _, occ := range occs {
		first := recurrence.DateOf(occ.Start.In(loc))
		last := first
		if occ.End.After(occ.Start) {
			last = recurrence.DateOf(occ.End.In(loc))
			if occ.AllDay || occ.End.In(loc).Equal(last.In(loc)) {
				last = last.AddDays(-1)
			}
		}
		if last.Before(first) {
			last = first
		}
		for d := first; !d.After(last); d = d.AddDays(1) {
			if i, ok := index[d]; ok {
				g.Cells[i].External = append(g.Cells[i].External, occ)
			}
		}
	}
}

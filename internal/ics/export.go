package ics

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "studycal/internal/log"
	"studycal/internal/model"
)

// ExportOptions controls Export.
type ExportOptions struct {
	// Name is written as X-WR-CALNAME.
	Name string
	// Location is the zone DTSTART/DTEND are written in. Rules are
	// evaluated by clients in this zone, so it should match the zone the
	// calendar is displayed in. Nil means UTC.
	Location *time.Location
	// Duration of each event. Zero means one hour.
	Duration time.Duration
	// Now stamps DTSTAMP. Zero means time.Now().
	Now time.Time
}

// Export renders local events as an iCalendar document. Recurring events
// carry an RRULE (and an RDATE when the first date is outside the weekday
// set) and enabled reminders become a DISPLAY VALARM.
func Export(events []model.CalendarEvent, opts ExportOptions) string {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	dur := opts.Duration
	if dur <= 0 {
		dur = time.Hour
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//studycal//calendar export//EN")
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}
	if loc != time.UTC && loc != time.Local {
		cal.SetXWRTimezone(loc.String())
	}

	for _, ev := range events {
		start := ev.Date.In(loc)

		var rule string
		var rdate *time.Time
		rec, recurring, err := ev.Recurring()
		if err != nil {
			appLog.Warn("ics export: skipping invalid pattern", "id", ev.ID, "error", err)
			recurring = false
		}
		if recurring {
			rule, rdate, err = rec.RRule(start)
			if err != nil {
				appLog.Warn("ics export: rule failed", "id", ev.ID, "error", err)
				continue
			}
			if rule == "" && rdate == nil {
				// End date before the first date: nothing ever occurs.
				continue
			}
		}

		vev := cal.AddEvent(ev.ID)
		vev.SetDtStampTime(now)
		if !ev.CreatedAt.IsZero() {
			vev.SetCreatedTime(ev.CreatedAt)
		}
		if !ev.UpdatedAt.IsZero() {
			vev.SetModifiedAt(ev.UpdatedAt)
		}
		setTime(&vev.ComponentBase, ical.ComponentPropertyDtStart, start, loc)
		setTime(&vev.ComponentBase, ical.ComponentPropertyDtEnd, start.Add(dur), loc)
		vev.SetSummary(ev.Title)
		if ev.Description != "" {
			vev.SetDescription(ev.Description)
		}
		if ev.Type != "" {
			vev.AddProperty(ical.ComponentPropertyCategories, string(ev.Type))
		}
		if p := icalPriority(ev.Priority); p > 0 {
			vev.SetPriority(p)
		}

		if rule != "" {
			vev.AddRrule(rule)
		}
		if rdate != nil {
			vev.AddRdate(formatTime(rdate.In(loc), loc), tzParams(loc)...)
		}

		if r := ev.Reminder; r != nil && r.Enabled && r.Timing > 0 {
			alarm := vev.AddAlarm()
			alarm.SetAction(ical.ActionDisplay)
			alarm.SetTrigger(fmt.Sprintf("-PT%dM", r.Timing))
			msg := r.Message
			if msg == "" {
				msg = ev.Title
			}
			alarm.SetProperty(ical.ComponentPropertyDescription, msg)
		}
	}

	return cal.Serialize()
}

func setTime(cb *ical.ComponentBase, prop ical.ComponentProperty, t time.Time, loc *time.Location) {
	cb.SetProperty(prop, formatTime(t, loc), tzParams(loc)...)
}

// formatTime writes UTC values with a Z suffix and zoned values as local
// time, to be paired with a TZID parameter.
func formatTime(t time.Time, loc *time.Location) string {
	if len(tzParams(loc)) == 0 {
		return t.UTC().Format("20060102T150405Z")
	}
	return t.In(loc).Format("20060102T150405")
}

func tzParams(loc *time.Location) []ical.PropertyParameter {
	if loc == time.UTC || loc == time.Local || loc.String() == "UTC" {
		return nil
	}
	return []ical.PropertyParameter{ical.WithTZID(loc.String())}
}

func icalPriority(p model.Priority) int {
	switch p {
	case model.PriorityHigh:
		return 1
	case model.PriorityMedium:
		return 5
	case model.PriorityLow:
		return 9
	default:
		return 0
	}
}

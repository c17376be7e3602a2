package ics

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/microcosm-cc/bluemonday"

	appLog "studycal/internal/log"
)

// textPolicy strips all markup. Feeds from web calendars often carry HTML
// in SUMMARY and DESCRIPTION.
var textPolicy = bluemonday.StrictPolicy()

// ParsedEvent is a VEVENT normalised for expansion.
type ParsedEvent struct {
	Source Source

	UID string
	Seq int

	Summary     string
	Description string
	Location    string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule   string
	RDates     []time.Time
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID, set on overrides
	IsOverride bool
}

// ParseICS parses one payload. VEVENTs that cannot be read are logged and
// skipped; only an unreadable calendar fails the whole call.
func ParseICS(src Source, body []byte) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return nil, err
	}

	events := make([]ParsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(src, comp)
		if perr != nil {
			appLog.Warn("ics vevent skipped", "id", src.ID, "error", perr)
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "id", src.ID, "event_count", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent) (ParsedEvent, error) {
	out := ParsedEvent{Source: src}

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil {
			out.Seq = n
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = cleanText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = cleanText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = cleanText(p.Value)
	}

	startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if startProp == nil {
		return out, fmt.Errorf("event %s: missing DTSTART", out.UID)
	}
	out.AllDay = isDateValue(startProp.ICalParameters, startProp.Value)

	var err error
	if out.AllDay {
		out.Start, err = ve.GetAllDayStartAt()
	} else {
		out.Start, err = ve.GetStartAt()
	}
	if err != nil {
		return out, fmt.Errorf("event %s: DTSTART: %w", out.UID, err)
	}

	switch {
	case out.AllDay:
		if end, err := ve.GetAllDayEndAt(); err == nil && end.After(out.Start) {
			out.End = end
		} else {
			out.End = out.Start.AddDate(0, 0, 1)
		}
	default:
		if end, err := ve.GetEndAt(); err == nil && !end.Before(out.Start) {
			out.End = end
		} else {
			out.End = out.Start
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = strings.TrimSpace(p.Value)
	}

	loc := out.Start.Location()
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		out.ExDates = append(out.ExDates, parseTimeList(p.Value, p.ICalParameters, loc)...)
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyRdate) {
		out.RDates = append(out.RDates, parseTimeList(p.Value, p.ICalParameters, loc)...)
	}

	if p := ve.GetProperty(ical.ComponentPropertyRecurrenceId); p != nil {
		if t, err := parseICSTime(p.Value, p.ICalParameters, loc); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	return out, nil
}

func cleanText(s string) string {
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(s)))
}

func isDateValue(params map[string][]string, value string) bool {
	if vs := params[string(ical.ParameterValue)]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(value, "T")
}

func parseTimeList(value string, params map[string][]string, fallback *time.Location) []time.Time {
	var out []time.Time
	for _, part := range strings.Split(value, ",") {
		if t, err := parseICSTime(part, params, fallback); err == nil {
			out = append(out, t)
		}
	}
	return out
}

// parseICSTime reads a DATE or DATE-TIME value honoring a TZID parameter.
// Floating values use fallback, the location of the event's DTSTART.
func parseICSTime(v string, params map[string][]string, fallback *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	loc := fallback
	if tz := params["TZID"]; len(tz) == 1 {
		if l, err := time.LoadLocation(tz[0]); err == nil {
			loc = l
		}
	}
	if loc == nil {
		loc = time.UTC
	}

	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}

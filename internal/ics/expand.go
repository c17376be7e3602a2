package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "studycal/internal/log"
	"studycal/internal/model"
)

const defaultMaxOccurrencesPerEvent = 5000

// ExpandConfig controls recurrence expansion.
type ExpandConfig struct {
	// DisplayLocation is where occurrences are reported. Nil means UTC.
	DisplayLocation *time.Location

	// RangeStart and RangeEnd bound the window, inclusive.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps a single UID. Zero uses the default.
	MaxOccurrencesPerEvent int
}

// ExpandResult holds expanded occurrences sorted by start.
type ExpandResult struct {
	Occurrences []model.Occurrence
	// TruncatedEvents lists UIDs that hit MaxOccurrencesPerEvent.
	TruncatedEvents []string
}

// ExpandOccurrences turns parsed VEVENTs into concrete occurrences inside
// the configured window. It applies RRULE, RDATE, EXDATE and
// RECURRENCE-ID overrides.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.UTC
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
		}
	}

	all := make([]model.Occurrence, 0)
	for uid, bases := range baseByUID {
		ov := overridesByUID[uid]
		truncated := false
		for _, ev := range bases {
			occ, hitCap := expandEvent(ev, ov, cfg)
			truncated = truncated || hitCap
			all = append(all, occ...)
		}
		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, uid)
			appLog.Warn("expand: occurrences truncated", "uid", uid, "cap", cfg.MaxOccurrencesPerEvent)
		}
	}

	// Overrides whose base event is missing from the feed still show up.
	for uid, ovs := range overridesByUID {
		if _, ok := baseByUID[uid]; ok {
			continue
		}
		for _, o := range ovs {
			if overlaps(o.Start, o.End, cfg.RangeStart, cfg.RangeEnd) {
				all = append(all, makeOccurrence(o, o.Start, o.End, cfg.DisplayLocation))
			}
		}
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Start.Before(all[j].Start) })
	result.Occurrences = all
	return result, nil
}

func expandEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Occurrence, bool) {
	if ev.RawRRule == "" && len(ev.RDates) == 0 {
		if !overlaps(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
			return nil, false
		}
		if o, ok := findOverride(overrides, ev.Start); ok {
			return []model.Occurrence{makeOccurrence(o, o.Start, o.End, cfg.DisplayLocation)}, false
		}
		return []model.Occurrence{makeOccurrence(ev, ev.Start, ev.End, cfg.DisplayLocation)}, false
	}
	return expandRecurring(ev, overrides, cfg)
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Occurrence, bool) {
	loc := ev.Start.Location()

	var set rrule.Set
	set.DTStart(ev.Start)
	if ev.RawRRule != "" {
		opt, err := rrule.StrToROptionInLocation(ev.RawRRule, loc)
		if err != nil {
			appLog.Warn("expand: bad RRULE", "uid", ev.UID, "rrule", ev.RawRRule, "error", err)
			return nil, false
		}
		opt.Dtstart = ev.Start
		r, err := rrule.NewRRule(*opt)
		if err != nil {
			appLog.Warn("expand: bad RRULE", "uid", ev.UID, "rrule", ev.RawRRule, "error", err)
			return nil, false
		}
		set.RRule(r)
	} else {
		set.RDate(ev.Start)
	}
	for _, rd := range ev.RDates {
		set.RDate(rd.In(loc))
	}
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(loc))
	}

	// Widen the lower bound by the event length so instances that started
	// before the window but are still running are kept.
	dur := ev.End.Sub(ev.Start)
	starts := set.Between(cfg.RangeStart.Add(-dur).In(loc), cfg.RangeEnd.In(loc), true)

	hitCap := false
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		starts = starts[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	out := make([]model.Occurrence, 0, len(starts))
	for _, s := range starts {
		end := s.Add(dur)
		if ev.AllDay {
			s = time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, loc)
			end = s.AddDate(0, 0, int(dur.Hours()+12)/24)
		}
		if o, ok := findOverride(overrides, s); ok {
			out = append(out, makeOccurrence(o, o.Start, o.End, cfg.DisplayLocation))
			continue
		}
		out = append(out, makeOccurrence(ev, s, end, cfg.DisplayLocation))
	}
	return out, hitCap
}

// findOverride matches RECURRENCE-ID to an instance start by instant.
func findOverride(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func makeOccurrence(ev ParsedEvent, start, end time.Time, displayLoc *time.Location) model.Occurrence {
	if ev.AllDay {
		// Keep the calendar date; all-day events float.
		start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, displayLoc)
		end = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, displayLoc)
	} else {
		start = start.In(displayLoc)
		end = end.In(displayLoc)
	}
	return model.Occurrence{
		SourceID:    ev.Source.ID,
		UID:         ev.UID,
		InstanceKey: model.InstanceKey(start),
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		AllDay:      ev.AllDay,
		Start:       start,
		End:         end,
	}
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}

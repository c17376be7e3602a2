package model

import (
	"time"

	"studycal/internal/recurrence"
)

// EventType distinguishes what a calendar entry was created from.
type EventType string

const (
	EventTask EventType = "task"
	EventGoal EventType = "goal"
)

// Priority is the optional urgency of an entry.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ReminderType selects the channels a reminder is delivered through.
type ReminderType string

const (
	ReminderEmail        ReminderType = "email"
	ReminderNotification ReminderType = "notification"
	ReminderBoth         ReminderType = "both"
)

// ReminderSettings is attached to an event to get notified before each
// occurrence.
type ReminderSettings struct {
	Enabled          bool         `json:"enabled" yaml:"enabled"`
	Type             ReminderType `json:"type" yaml:"type" validate:"oneof=email notification both"`
	Timing           int          `json:"timing" yaml:"timing" validate:"oneof=5 10 15 30 60 120 1440"`
	Message          string       `json:"message,omitempty" yaml:"message,omitempty" validate:"max=500"`
	NotifyOnComplete bool         `json:"notifyOnComplete,omitempty" yaml:"notify_on_complete,omitempty"`
}

// DefaultReminder mirrors the defaults offered when a reminder is first set.
func DefaultReminder() ReminderSettings {
	return ReminderSettings{
		Enabled: true,
		Type:    ReminderNotification,
		Timing:  15,
	}
}

// CalendarEvent is a task or goal placed on the calendar. Date carries
// the time of day; recurrence only looks at its calendar date.
type CalendarEvent struct {
	ID          string            `json:"id" yaml:"id"`
	Title       string            `json:"title" yaml:"title"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Date        time.Time         `json:"date" yaml:"date"`
	Type        EventType         `json:"type" yaml:"type"`
	Priority    Priority          `json:"priority,omitempty" yaml:"priority,omitempty"`
	Recurrence  *recurrence.Spec  `json:"recurringPattern,omitempty" yaml:"recurrence,omitempty"`
	Reminder    *ReminderSettings `json:"reminder,omitempty" yaml:"reminder,omitempty"`
	CreatedAt   time.Time         `json:"createdAt" yaml:"created_at"`
	UpdatedAt   time.Time         `json:"updatedAt" yaml:"updated_at"`
}

// Recurring returns the recurring form of ev. ok is false for one-off
// events; err reports a stored pattern that no longer validates.
func (ev CalendarEvent) Recurring() (rec recurrence.Event, ok bool, err error) {
	if ev.Recurrence == nil {
		return recurrence.Event{}, false, nil
	}
	p, err := ev.Recurrence.Pattern()
	if err != nil {
		return recurrence.Event{}, false, err
	}
	return recurrence.NewEvent(ev.Date, p), true, nil
}

// OccursOn reports whether ev lands on the calendar date of t, in the
// location of t. Events with an invalid stored pattern never occur.
func (ev CalendarEvent) OccursOn(t time.Time) bool {
	ev.Date = ev.Date.In(t.Location())
	rec, ok, err := ev.Recurring()
	if err != nil {
		return false
	}
	if ok {
		return rec.OccursOn(t)
	}
	return recurrence.DateOf(ev.Date) == recurrence.DateOf(t)
}

// Clone returns a deep copy so callers can edit without touching stored state.
func (ev CalendarEvent) Clone() CalendarEvent {
	out := ev
	if ev.Recurrence != nil {
		spec := *ev.Recurrence
		if spec.DaysOfWeek != nil {
			spec.DaysOfWeek = append([]int(nil), spec.DaysOfWeek...)
		}
		if spec.EndDate != nil {
			d := *spec.EndDate
			spec.EndDate = &d
		}
		if spec.Occurrences != nil {
			n := *spec.Occurrences
			spec.Occurrences = &n
		}
		out.Recurrence = &spec
	}
	if ev.Reminder != nil {
		r := *ev.Reminder
		out.Reminder = &r
	}
	return out
}

// Occurrence represents a single concrete instance of an event
// (after recurrence expansion and timezone normalization).
type Occurrence struct {
	SourceID string `json:"source_id"` // "local" or the ICS source ID
	UID      string `json:"uid"`

	// InstanceKey uniquely identifies a single occurrence of a recurring
	// event, derived from the local start time.
	InstanceKey string `json:"instance_key"`

	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`

	AllDay bool `json:"all_day"`

	// Start / End are in the configured display timezone.
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// LocalSource is the SourceID of occurrences produced from stored events.
const LocalSource = "local"

// InstanceKey formats the per-instance key used for de-duplication.
func InstanceKey(start time.Time) string {
	return start.Format(time.RFC3339)
}

package calendar

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"studycal/internal/ics"
	appLog "studycal/internal/log"
	"studycal/internal/metrics"
	"studycal/internal/model"
	"studycal/internal/recurrence"
	"studycal/internal/store"
)

// ErrInvalidInput reports an event that cannot be stored as given.
var ErrInvalidInput = errors.New("invalid event")

// InputError names the offending field of an invalid event.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *InputError) Unwrap() error { return ErrInvalidInput }

// EventInput is the editable part of an event.
type EventInput struct {
	Title       string
	Description string
	Date        time.Time
	Type        model.EventType
	Priority    model.Priority
	Recurrence  *recurrence.Spec
	Reminder    *model.ReminderSettings
}

// OccurrenceSource supplies external occurrences for month views.
// *ics.Feed implements it.
type OccurrenceSource interface {
	Occurrences(ctx context.Context, from, to time.Time, loc *time.Location) (ics.ExpandResult, error)
}

// Service applies edits to stored events and renders month views.
type Service struct {
	store     store.Store
	external  OccurrenceSource
	loc       *time.Location
	weekStart time.Weekday
	metrics   *metrics.Collector
	now       func() time.Time
	newID     func() string
}

// Option customises a Service.
type Option func(*Service)

// WithLocation sets the zone calendar dates are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithWeekStart sets the first column of month grids.
func WithWeekStart(d time.Weekday) Option {
	return func(s *Service) { s.weekStart = d }
}

// WithExternal adds subscribed occurrences to month grids.
func WithExternal(src OccurrenceSource) Option {
	return func(s *Service) { s.external = src }
}

// WithMetrics records grid renders and checks on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Service) { s.metrics = c }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds a Service over st.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:     st,
		loc:       time.UTC,
		weekStart: time.Sunday,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location returns the zone dates are evaluated in.
func (s *Service) Location() *time.Location { return s.loc }

func (s *Service) List(ctx context.Context) ([]model.CalendarEvent, error) {
	return s.store.List(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (model.CalendarEvent, error) {
	return s.store.Get(ctx, id)
}

// Create validates in and stores it under a new ID.
func (s *Service) Create(ctx context.Context, in EventInput) (model.CalendarEvent, error) {
	if err := validateInput(&in); err != nil {
		return model.CalendarEvent{}, err
	}
	now := s.now().UTC()
	ev := model.CalendarEvent{
		ID:        s.newID(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	applyInput(&ev, in)
	if err := s.store.Put(ctx, ev); err != nil {
		return model.CalendarEvent{}, err
	}
	appLog.Info("event created", "id", ev.ID, "recurring", ev.Recurrence != nil)
	return ev, nil
}

// Update replaces every editable field of the event.
func (s *Service) Update(ctx context.Context, id string, in EventInput) (model.CalendarEvent, error) {
	if err := validateInput(&in); err != nil {
		return model.CalendarEvent{}, err
	}
	return s.modify(ctx, id, func(ev *model.CalendarEvent) error {
		applyInput(ev, in)
		return nil
	})
}

// Delete removes the event and, with it, its pattern and reminder.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	appLog.Info("event deleted", "id", id)
	return nil
}

// Move puts the event on a new calendar date, keeping its time of day.
// For a recurring event the anchor moves, so the whole series shifts.
func (s *Service) Move(ctx context.Context, id string, to recurrence.Date) (model.CalendarEvent, error) {
	if to.IsZero() {
		return model.CalendarEvent{}, &InputError{Field: "date", Reason: "is required"}
	}
	return s.modify(ctx, id, func(ev *model.CalendarEvent) error {
		local := ev.Date.In(s.loc)
		ev.Date = time.Date(to.Year, to.Month, to.Day, local.Hour(), local.Minute(), local.Second(), 0, s.loc)
		return nil
	})
}

// SetRecurrence replaces the event's pattern wholesale. A nil spec makes
// the event one-off again.
func (s *Service) SetRecurrence(ctx context.Context, id string, spec *recurrence.Spec) (model.CalendarEvent, error) {
	if spec != nil {
		if _, err := spec.Pattern(); err != nil {
			return model.CalendarEvent{}, err
		}
	}
	return s.modify(ctx, id, func(ev *model.CalendarEvent) error {
		ev.Recurrence = cloneSpec(spec)
		return nil
	})
}

// SetReminder attaches, replaces or (with nil) removes the reminder.
func (s *Service) SetReminder(ctx context.Context, id string, r *model.ReminderSettings) (model.CalendarEvent, error) {
	if r != nil {
		if err := validateReminder(r); err != nil {
			return model.CalendarEvent{}, err
		}
	}
	return s.modify(ctx, id, func(ev *model.CalendarEvent) error {
		if r == nil {
			ev.Reminder = nil
			return nil
		}
		cp := *r
		ev.Reminder = &cp
		return nil
	})
}

// OccursOn reports whether the stored event lands on d.
func (s *Service) OccursOn(ctx context.Context, id string, d recurrence.Date) (bool, error) {
	ev, err := s.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	s.metrics.RecordOccurrenceChecks(1)
	return ev.OccursOn(d.In(s.loc)), nil
}

// Month renders the grid for year/month with stored events and, when
// configured, subscribed occurrences. A failing subscription is logged and
// left out rather than failing the view.
func (s *Service) Month(ctx context.Context, year int, month time.Month) (Grid, error) {
	if month < time.January || month > time.December {
		return Grid{}, &InputError{Field: "month", Reason: "must be between 1 and 12"}
	}
	events, err := s.store.List(ctx)
	if err != nil {
		return Grid{}, err
	}

	g := MonthGrid(year, month, s.weekStart, s.loc, events)
	g.MarkToday(recurrence.DateOf(s.now().In(s.loc)))
	s.metrics.RecordGridRender(g.Checks)

	if s.external != nil {
		from := g.Cells[0].Date.In(s.loc)
		to := g.Cells[len(g.Cells)-1].Date.AddDays(1).In(s.loc)
		res, err := s.external.Occurrences(ctx, from, to, s.loc)
		if err != nil {
			appLog.Warn("month view: subscriptions incomplete", "error", err)
		}
		g.AddExternal(res.Occurrences, s.loc)
	}
	return g, nil
}

// Export renders all stored events as an iCalendar document.
func (s *Service) Export(ctx context.Context, name string) (string, error) {
	events, err := s.store.List(ctx)
	if err != nil {
		return "", err
	}
	return ics.Export(events, ics.ExportOptions{Name: name, Location: s.loc, Now: s.now()}), nil
}

func (s *Service) modify(ctx context.Context, id string, fn func(*model.CalendarEvent) error) (model.CalendarEvent, error) {
	ev, err := s.store.Get(ctx, id)
	if err != nil {
		return model.CalendarEvent{}, err
	}
	if err := fn(&ev); err != nil {
		return model.CalendarEvent{}, err
	}
	ev.UpdatedAt = s.now().UTC()
	if err := s.store.Put(ctx, ev); err != nil {
		return model.CalendarEvent{}, err
	}
	return ev, nil
}

func validateInput(in *EventInput) error {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return &InputError{Field: "title", Reason: "is required"}
	}
	if in.Date.IsZero() {
		return &InputError{Field: "date", Reason: "is required"}
	}
	switch in.Type {
	case "":
		in.Type = model.EventTask
	case model.EventTask, model.EventGoal:
	default:
		return &InputError{Field: "type", Reason: "must be task or goal"}
	}
	switch in.Priority {
	case "", model.PriorityLow, model.PriorityMedium, model.PriorityHigh:
	default:
		return &InputError{Field: "priority", Reason: "must be low, medium or high"}
	}
	if in.Recurrence != nil {
		if _, err := in.Recurrence.Pattern(); err != nil {
			return err
		}
	}
	if in.Reminder != nil {
		return validateReminder(in.Reminder)
	}
	return nil
}

// reminderValidate checks model.ReminderSettings against its struct tags,
// the same rules the HTTP layer enforces.
var reminderValidate = newReminderValidator()

func newReminderValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validateReminder(r *model.ReminderSettings) error {
	err := reminderValidate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	reason := "is invalid"
	switch fe.Tag() {
	case "oneof":
		reason = "must be one of " + fe.Param()
	case "max":
		reason = "must be at most " + fe.Param() + " characters"
	}
	return &InputError{Field: "reminder." + fe.Field(), Reason: reason}
}

func applyInput(ev *model.CalendarEvent, in EventInput) {
	ev.Title = in.Title
	ev.Description = in.Description
	ev.Date = in.Date
	ev.Type = in.Type
	ev.Priority = in.Priority
	ev.Recurrence = cloneSpec(in.Recurrence)
	ev.Reminder = nil
	if in.Reminder != nil {
		r := *in.Reminder
		ev.Reminder = &r
	}
}

func cloneSpec(spec *recurrence.Spec) *recurrence.Spec {
	if spec == nil {
		return nil
	}
	ev := model.CalendarEvent{Recurrence: spec}
	return ev.Clone().Recurrence
}

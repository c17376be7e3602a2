// Package reminder sends reminders ahead of event occurrences on a cron
// schedule.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "studycal/internal/log"
	"studycal/internal/metrics"
	"studycal/internal/model"
	"studycal/internal/recurrence"
)

// firedRetention is how long delivered instance keys are remembered.
const firedRetention = 48 * time.Hour

// Reminder is one delivery for one occurrence over one channel.
type Reminder struct {
	EventID     string
	Title       string
	Message     string
	Channel     string // "email" or "notification"
	Start       time.Time
	InstanceKey string
	Lead        time.Duration
}

// Notifier delivers reminders.
type Notifier interface {
	Notify(ctx context.Context, r Reminder) error
}

// EventLister is the part of the store the scheduler reads.
type EventLister interface {
	List(ctx context.Context) ([]model.CalendarEvent, error)
}

// LogNotifier writes reminders to the application log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, r Reminder) error {
	appLog.Info("reminder",
		"channel", r.Channel,
		"event_id", r.EventID,
		"title", r.Title,
		"start", r.Start.Format(time.RFC3339),
		"lead", r.Lead.String(),
		"message", r.Message,
	)
	return nil
}

// Options configures a Scheduler.
type Options struct {
	// Spec is a standard five-field cron spec. Empty means every minute.
	Spec string
	// Location is the zone event dates and cron times are evaluated in.
	Location *time.Location
	Metrics  *metrics.Collector
}

// Scheduler scans events on a cron schedule and notifies once per
// occurrence and channel when the occurrence start minus the reminder
// timing falls between the previous scan and now. A failed delivery is
// retried on later scans until the occurrence starts.
type Scheduler struct {
	events   EventLister
	notifier Notifier
	loc      *time.Location
	spec     string
	metrics  *metrics.Collector
	now      func() time.Time

	mu       sync.Mutex
	lastScan time.Time
	fired    map[string]time.Time
	pending  map[string]Reminder

	cron *cron.Cron
}

// NewScheduler validates the cron spec and returns a stopped Scheduler.
func NewScheduler(events EventLister, n Notifier, opts Options) (*Scheduler, error) {
	if events == nil || n == nil {
		return nil, errors.New("reminder: events and notifier are required")
	}
	spec := opts.Spec
	if spec == "" {
		spec = "* * * * *"
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("reminder: invalid cron spec %q: %w", spec, err)
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		events:   events,
		notifier: n,
		loc:      loc,
		spec:     spec,
		metrics:  opts.Metrics,
		now:      time.Now,
		fired:    make(map[string]time.Time),
		pending:  make(map[string]Reminder),
	}, nil
}

// Start runs Scan on the cron schedule until Stop. Overlapping runs are
// skipped.
func (s *Scheduler) Start() error {
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	_, err := c.AddFunc(s.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.Scan(ctx); err != nil {
			appLog.Error("reminder scan failed", err)
		}
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.lastScan = s.now()
	s.cron = c
	s.mu.Unlock()

	c.Start()
	appLog.Info("reminder scheduler started", "spec", s.spec, "timezone", s.loc.String())
	return nil
}

// Stop halts the schedule and waits for a running scan to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Scan retries reminders that failed earlier, then delivers every
// reminder due in (lastScan, now], and returns how many were sent. The
// first scan only looks back one minute.
func (s *Scheduler) Scan(ctx context.Context) (int, error) {
	events, err := s.events.List(ctx)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	now := s.now()
	since := s.lastScan
	if since.IsZero() || !since.Before(now) {
		since = now.Add(-time.Minute)
	}
	s.lastScan = now
	s.pruneLocked(now)
	retry := s.retryableLocked(events, now)
	s.mu.Unlock()

	sent := 0
	var errs []error
	deliver := func(r Reminder) {
		key := r.InstanceKey + "|" + r.Channel
		s.mu.Lock()
		_, done := s.fired[key]
		s.mu.Unlock()
		if done {
			return
		}
		if err := s.notifier.Notify(ctx, r); err != nil {
			s.mu.Lock()
			s.pending[key] = r
			s.mu.Unlock()
			errs = append(errs, fmt.Errorf("event %s: %w", r.EventID, err))
			return
		}
		s.mu.Lock()
		delete(s.pending, key)
		s.fired[key] = r.Start
		s.mu.Unlock()
		s.metrics.RecordReminderFired(r.Channel)
		sent++
	}

	for _, r := range retry {
		deliver(r)
	}
	for _, ev := range events {
		for _, r := range s.due(ev, since, now) {
			deliver(r)
		}
	}
	return sent, errors.Join(errs...)
}

// retryableLocked returns the pending reminders still worth sending and
// forgets those whose occurrence has started or that the event no longer
// asks for.
func (s *Scheduler) retryableLocked(events []model.CalendarEvent, now time.Time) []Reminder {
	if len(s.pending) == 0 {
		return nil
	}
	byID := make(map[string]model.CalendarEvent, len(events))
	for _, ev := range events {
		byID[ev.ID] = ev
	}
	out := make([]Reminder, 0, len(s.pending))
	for key, r := range s.pending {
		ev, ok := byID[r.EventID]
		if !ok || !now.Before(r.Start) || !stillReminds(ev, r) {
			delete(s.pending, key)
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// due lists the reminders of ev whose fire time lies in (since, now].
func (s *Scheduler) due(ev model.CalendarEvent, since, now time.Time) []Reminder {
	rs := ev.Reminder
	if rs == nil || !rs.Enabled || rs.Timing <= 0 {
		return nil
	}
	lead := time.Duration(rs.Timing) * time.Minute
	clock := ev.Date.In(s.loc)

	var out []Reminder
	from := recurrence.DateOf(since.Add(lead).In(s.loc))
	to := recurrence.DateOf(now.Add(lead).In(s.loc))
	checks := 0
	for d := from; !d.After(to); d = d.AddDays(1) {
		checks++
		if !ev.OccursOn(d.In(s.loc)) {
			continue
		}
		start := time.Date(d.Year, d.Month, d.Day, clock.Hour(), clock.Minute(), clock.Second(), 0, s.loc)
		fireAt := start.Add(-lead)
		if !fireAt.After(since) || fireAt.After(now) {
			continue
		}
		message := rs.Message
		if message == "" {
			message = fmt.Sprintf("%s starts in %d minutes", ev.Title, rs.Timing)
		}
		for _, ch := range channels(rs.Type) {
			out = append(out, Reminder{
				EventID:     ev.ID,
				Title:       ev.Title,
				Message:     message,
				Channel:     ch,
				Start:       start,
				InstanceKey: ev.ID + "@" + model.InstanceKey(start),
				Lead:        lead,
			})
		}
	}
	s.metrics.RecordOccurrenceChecks(checks)
	return out
}

func stillReminds(ev model.CalendarEvent, r Reminder) bool {
	rs := ev.Reminder
	if rs == nil || !rs.Enabled || !slices.Contains(channels(rs.Type), r.Channel) {
		return false
	}
	return ev.OccursOn(r.Start)
}

func channels(t model.ReminderType) []string {
	switch t {
	case model.ReminderEmail:
		return []string{"email"}
	case model.ReminderBoth:
		return []string{"email", "notification"}
	default:
		return []string{"notification"}
	}
}

func (s *Scheduler) pruneLocked(now time.Time) {
	for k, start := range s.fired {
		if now.Sub(start) > firedRetention {
			delete(s.fired, k)
		}
	}
}

package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"studycal/internal/model"
	"studycal/internal/recurrence"
)

var sampleICS = strings.Join([]string{
	"BEGIN:VCALENDAR",
	"VERSION:2.0",
	"PRODID:-//test//EN",
	"BEGIN:VEVENT",
	"UID:lecture-1",
	"DTSTAMP:20240101T000000Z",
	"DTSTART:20240108T090000Z",
	"DTEND:20240108T103000Z",
	"SUMMARY:<b>Linear Algebra</b> &amp; Lab",
	"DESCRIPTION:<p>Room 101</p>",
	"RRULE:FREQ=WEEKLY;BYDAY=MO;COUNT=4",
	"EXDATE:20240115T090000Z",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:lecture-1",
	"DTSTAMP:20240101T000000Z",
	"RECURRENCE-ID:20240122T090000Z",
	"DTSTART:20240122T130000Z",
	"DTEND:20240122T143000Z",
	"SUMMARY:Linear Algebra (moved)",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:holiday",
	"DTSTAMP:20240101T000000Z",
	"DTSTART;VALUE=DATE:20240110",
	"DTEND;VALUE=DATE:20240111",
	"SUMMARY:Holiday",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"DTSTAMP:20240101T000000Z",
	"DTSTART:20240110T090000Z",
	"SUMMARY:no uid",
	"END:VEVENT",
	"END:VCALENDAR",
	"",
}, "\r\n")

func TestParseICS(t *testing.T) {
	events, err := ParseICS(Source{ID: "s"}, []byte(sampleICS))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3 (event without UID skipped)", len(events))
	}

	base := events[0]
	if base.Summary != "Linear Algebra & Lab" {
		t.Errorf("Summary = %q, want markup stripped", base.Summary)
	}
	if base.Description != "Room 101" {
		t.Errorf("Description = %q", base.Description)
	}
	if base.RawRRule != "FREQ=WEEKLY;BYDAY=MO;COUNT=4" {
		t.Errorf("RawRRule = %q", base.RawRRule)
	}
	if len(base.ExDates) != 1 || !base.ExDates[0].Equal(time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("ExDates = %v", base.ExDates)
	}
	if got := base.End.Sub(base.Start); got != 90*time.Minute {
		t.Errorf("duration = %v", got)
	}

	if !events[1].IsOverride || events[1].Recurrence == nil {
		t.Errorf("second VEVENT should be an override: %+v", events[1])
	}
	if !events[2].AllDay {
		t.Error("VALUE=DATE event should be all-day")
	}
}

func TestParseICS_Empty(t *testing.T) {
	if _, err := ParseICS(Source{}, nil); err == nil {
		t.Error("expected error for empty body")
	}
}

func TestExpandOccurrences(t *testing.T) {
	events, err := ParseICS(Source{ID: "s"}, []byte(sampleICS))
	if err != nil {
		t.Fatal(err)
	}

	res, err := ExpandOccurrences(events, ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:        time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}

	var lectures []time.Time
	var holiday *model.Occurrence
	for i, occ := range res.Occurrences {
		switch occ.UID {
		case "lecture-1":
			lectures = append(lectures, occ.Start)
		case "holiday":
			holiday = &res.Occurrences[i]
		}
	}

	// COUNT=4 from Jan 8: 8, 15 (excluded), 22 (moved to 13:00), 29.
	want := []time.Time{
		time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 22, 13, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 29, 9, 0, 0, 0, time.UTC),
	}
	if len(lectures) != len(want) {
		t.Fatalf("lectures = %v, want %v", lectures, want)
	}
	for i := range want {
		if !lectures[i].Equal(want[i]) {
			t.Errorf("lecture %d = %v, want %v", i, lectures[i], want[i])
		}
	}

	if holiday == nil {
		t.Fatal("all-day event missing")
	}
	if !holiday.AllDay || holiday.Start.Day() != 10 || holiday.End.Day() != 11 {
		t.Errorf("holiday = %+v", holiday)
	}

	for i := 1; i < len(res.Occurrences); i++ {
		if res.Occurrences[i].Start.Before(res.Occurrences[i-1].Start) {
			t.Fatal("occurrences not sorted by start")
		}
	}
}

func TestExpandOccurrences_Cap(t *testing.T) {
	ev := ParsedEvent{
		UID:      "daily",
		Start:    time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC),
		End:      time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		RawRRule: "FREQ=DAILY",
	}
	res, err := ExpandOccurrences([]ParsedEvent{ev}, ExpandConfig{
		RangeStart:             time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:               time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		MaxOccurrencesPerEvent: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Occurrences) != 10 {
		t.Errorf("len = %d, want 10", len(res.Occurrences))
	}
	if len(res.TruncatedEvents) != 1 || res.TruncatedEvents[0] != "daily" {
		t.Errorf("TruncatedEvents = %v", res.TruncatedEvents)
	}
}

func TestExpandOccurrences_BadRange(t *testing.T) {
	now := time.Now()
	if _, err := ExpandOccurrences(nil, ExpandConfig{RangeStart: now, RangeEnd: now.Add(-time.Hour)}); err == nil {
		t.Error("expected error for inverted range")
	}
}

func TestExport_RoundTripMatchesMatcher(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	count := 6
	end := recurrence.NewDate(2024, 6, 30)
	events := []model.CalendarEvent{
		{
			ID:         "weekly-days",
			Title:      "Study group",
			Date:       time.Date(2024, 1, 3, 19, 30, 0, 0, loc), // Wednesday
			Type:       model.EventGoal,
			Recurrence: &recurrence.Spec{Frequency: "weekly", Interval: 2, DaysOfWeek: []int{1, 4}, Occurrences: &count},
		},
		{
			ID:         "month-end",
			Title:      "Budget review",
			Date:       time.Date(2024, 1, 31, 8, 0, 0, 0, loc),
			Type:       model.EventTask,
			Priority:   model.PriorityHigh,
			Recurrence: &recurrence.Spec{Frequency: "monthly", Interval: 1, EndDate: &end},
			Reminder:   &model.ReminderSettings{Enabled: true, Type: model.ReminderNotification, Timing: 30},
		},
		{
			ID:    "one-off",
			Title: "Exam",
			Date:  time.Date(2024, 2, 14, 10, 0, 0, 0, loc),
			Type:  model.EventTask,
		},
	}

	doc := Export(events, ExportOptions{Name: "Study", Location: loc})
	unfolded := strings.NewReplacer("\r\n ", "", "\n ", "").Replace(doc)
	for _, want := range []string{"RRULE:FREQ=MONTHLY", "BYSETPOS=-1", "RDATE;TZID=America/New_York:20240103T193000", "BEGIN:VALARM", "TRIGGER:-PT30M", "X-WR-CALNAME:Study"} {
		if !strings.Contains(unfolded, want) {
			t.Errorf("export missing %q", want)
		}
	}

	parsed, err := ParseICS(Source{ID: "export"}, []byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, loc)
	to := time.Date(2024, 12, 31, 23, 59, 59, 0, loc)
	res, err := ExpandOccurrences(parsed, ExpandConfig{DisplayLocation: loc, RangeStart: from, RangeEnd: to})
	if err != nil {
		t.Fatal(err)
	}

	got := map[string][]recurrence.Date{}
	for _, occ := range res.Occurrences {
		got[occ.UID] = append(got[occ.UID], recurrence.DateOf(occ.Start))
	}

	for _, ev := range events {
		var want []recurrence.Date
		for d := recurrence.DateOf(from); !d.After(recurrence.DateOf(to)); d = d.AddDays(1) {
			if ev.OccursOn(d.In(loc)) {
				want = append(want, d)
			}
		}
		if len(got[ev.ID]) != len(want) {
			t.Errorf("%s: ics gives %v, matcher %v", ev.ID, got[ev.ID], want)
			continue
		}
		for i := range want {
			if got[ev.ID][i] != want[i] {
				t.Errorf("%s: occurrence %d ics=%s matcher=%s", ev.ID, i, got[ev.ID][i], want[i])
				break
			}
		}
	}
}

func TestExport_SkipsEmptyPattern(t *testing.T) {
	end := recurrence.NewDate(2024, 1, 1)
	doc := Export([]model.CalendarEvent{{
		ID:         "never",
		Title:      "never",
		Date:       time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		Recurrence: &recurrence.Spec{Frequency: "daily", Interval: 1, EndDate: &end},
	}}, ExportOptions{})
	if strings.Contains(doc, "UID:never") {
		t.Error("event whose end precedes its first date should not be exported")
	}
}

func TestFeed_CachesWithinTTL(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(sampleICS))
	}))
	defer srv.Close()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	feed := NewFeed(NewFetcher(t.TempDir(), WithHTTPClient(srv.Client())), []Source{{ID: "s", URL: srv.URL}}, time.Minute)
	feed.now = func() time.Time { return now }

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	first, err := feed.Occurrences(context.Background(), from, to, time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Occurrences) == 0 {
		t.Fatal("expected occurrences")
	}
	if _, err := feed.Occurrences(context.Background(), from, to, time.UTC); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 1 {
		t.Errorf("hits = %d, want 1 within TTL", hits.Load())
	}

	now = now.Add(2 * time.Minute)
	if _, err := feed.Events(context.Background()); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 2 {
		t.Errorf("hits = %d, want 2 after TTL", hits.Load())
	}
}

package web

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"studycal/internal/calendar"
	"studycal/internal/config"
	"studycal/internal/metrics"
	"studycal/internal/model"
	"studycal/internal/store"
)

var testNow = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, cfg *config.Config, opts ...Option) *Server {
	t.Helper()
	return newTestServerWith(t, cfg, nil, opts...)
}

// newTestServerWith also passes svcOpts to the calendar service.
func newTestServerWith(t *testing.T, cfg *config.Config, svcOpts []calendar.Option, opts ...Option) *Server {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	clock := func() time.Time { return testNow }
	svcOpts = append([]calendar.Option{calendar.WithClock(clock)}, svcOpts...)
	svc := calendar.NewService(store.NewMemoryStore(), svcOpts...)
	s := NewServer(cfg, svc, opts...)
	s.now = clock
	t.Cleanup(s.Close)
	return s
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func createEvent(t *testing.T, s *Server, body string) model.CalendarEvent {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/api/events", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	return decodeBody[model.CalendarEvent](t, rec)
}

const weeklyGym = `{
	"title": "Gym",
	"date": "2024-01-01T07:00:00Z",
	"type": "task",
	"recurringPattern": {"frequency": "weekly", "interval": 1}
}`

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(t, s, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("GET /health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "ada", Password: "s3cret"}
	s := newTestServer(t, cfg)

	if rec := do(t, s, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("/health with auth enabled = %d, want 200", rec.Code)
	}

	rec := do(t, s, http.MethodGet, "/api/events", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no credentials = %d, want 401", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("missing WWW-Authenticate header")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.SetBasicAuth("ada", "s3cret")
	ok := httptest.NewRecorder()
	s.Handler().ServeHTTP(ok, req)
	if ok.Code != http.StatusOK {
		t.Errorf("with credentials = %d, want 200", ok.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.SetBasicAuth("ada", "wrong!")
	bad := httptest.NewRecorder()
	s.Handler().ServeHTTP(bad, req)
	if bad.Code != http.StatusUnauthorized {
		t.Errorf("wrong password = %d, want 401", bad.Code)
	}
}

func TestEvents_CreateGetOccurs(t *testing.T) {
	s := newTestServer(t, nil)
	ev := createEvent(t, s, weeklyGym)
	if ev.ID == "" || ev.Title != "Gym" {
		t.Fatalf("created = %+v", ev)
	}

	rec := do(t, s, http.MethodGet, "/api/events/"+ev.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d", rec.Code)
	}

	tests := []struct {
		date string
		want bool
	}{
		{"2024-01-01", true},
		{"2024-01-08", true},
		{"2024-01-15", true},
		{"2024-01-09", false},
		{"2023-12-25", false},
	}
	for _, tt := range tests {
		rec := do(t, s, http.MethodGet, "/api/events/"+ev.ID+"/occurs?date="+tt.date, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("occurs %s status = %d", tt.date, rec.Code)
		}
		got := decodeBody[occursResponse](t, rec)
		if got.Occurs != tt.want {
			t.Errorf("occurs(%s) = %v, want %v", tt.date, got.Occurs, tt.want)
		}
	}

	list := decodeBody[eventsResponse](t, do(t, s, http.MethodGet, "/api/events", ""))
	if len(list.Events) != 1 {
		t.Errorf("list = %d events, want 1", len(list.Events))
	}
}

func TestEvents_ValidationErrors(t *testing.T) {
	s := newTestServer(t, nil)
	tests := []struct {
		name   string
		body   string
		status int
		code   string
		field  string
	}{
		{
			"zero interval",
			`{"title":"x","date":"2024-01-01T07:00:00Z","recurringPattern":{"frequency":"daily","interval":0}}`,
			http.StatusUnprocessableEntity, codeInvalidInterval, "interval",
		},
		{
			"empty weekday set",
			`{"title":"x","date":"2024-01-01T07:00:00Z","recurringPattern":{"frequency":"weekly","interval":1,"daysOfWeek":[]}}`,
			http.StatusUnprocessableEntity, codeInvalidWeekdaySet, "daysOfWeek",
		},
		{
			"both end conditions",
			`{"title":"x","date":"2024-01-01T07:00:00Z","recurringPattern":{"frequency":"daily","interval":1,"endDate":"2024-02-01","occurrences":3}}`,
			http.StatusUnprocessableEntity, codeConflictingEndCondition, "endDate",
		},
		{
			"unknown frequency",
			`{"title":"x","date":"2024-01-01T07:00:00Z","recurringPattern":{"frequency":"yearly","interval":1}}`,
			http.StatusUnprocessableEntity, codeInvalidFrequency, "frequency",
		},
		{
			"missing title",
			`{"date":"2024-01-01T07:00:00Z"}`,
			http.StatusBadRequest, codeValidationFailed, "title",
		},
		{
			"bad reminder timing",
			`{"title":"x","date":"2024-01-01T07:00:00Z","reminder":{"enabled":true,"type":"email","timing":7}}`,
			http.StatusBadRequest, codeValidationFailed, "reminder.timing",
		},
		{
			"malformed json",
			`{"title":`,
			http.StatusBadRequest, codeInvalidJSON, "",
		},
		{
			"unknown field",
			`{"title":"x","date":"2024-01-01T07:00:00Z","colour":"red"}`,
			http.StatusBadRequest, codeInvalidJSON, "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/events", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			got := decodeBody[errorResponse](t, rec)
			if got.Code != tt.code || got.Field != tt.field {
				t.Errorf("error = %+v, want code %s field %q", got, tt.code, tt.field)
			}
		})
	}
}

func TestEvents_NotFound(t *testing.T) {
	s := newTestServer(t, nil)
	for _, c := range []struct{ method, path, body string }{
		{http.MethodGet, "/api/events/nope", ""},
		{http.MethodDelete, "/api/events/nope", ""},
		{http.MethodGet, "/api/events/nope/occurs?date=2024-01-01", ""},
		{http.MethodPut, "/api/events/nope/recurrence", "null"},
	} {
		rec := do(t, s, c.method, c.path, c.body)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s = %d, want 404", c.method, c.path, rec.Code)
			continue
		}
		if got := decodeBody[errorResponse](t, rec); got.Code != codeNotFound {
			t.Errorf("%s %s code = %s", c.method, c.path, got.Code)
		}
	}
}

func TestEvents_RecurrenceReminderMoveDelete(t *testing.T) {
	s := newTestServer(t, nil)
	ev := createEvent(t, s, weeklyGym)
	base := "/api/events/" + ev.ID

	rec := do(t, s, http.MethodPut, base+"/recurrence", `{"frequency":"weekly","interval":1,"daysOfWeek":[2,4]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("set recurrence = %d %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[occursResponse](t, do(t, s, http.MethodGet, base+"/occurs?date=2024-01-04", "")); !got.Occurs {
		t.Error("Thursday Jan 4 should occur after switching to Tue/Thu")
	}

	rec = do(t, s, http.MethodPut, base+"/recurrence", `{"frequency":"weekly","interval":1,"daysOfWeek":[9]}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("invalid weekday = %d, want 422", rec.Code)
	}

	rec = do(t, s, http.MethodPut, base+"/recurrence", `null`)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear recurrence = %d", rec.Code)
	}
	if got := decodeBody[model.CalendarEvent](t, rec); got.Recurrence != nil {
		t.Error("recurrence should be cleared")
	}

	rec = do(t, s, http.MethodPut, base+"/reminder", `{"enabled":true,"type":"both","timing":30}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("set reminder = %d %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[model.CalendarEvent](t, rec); got.Reminder == nil || got.Reminder.Timing != 30 {
		t.Errorf("reminder = %+v", got.Reminder)
	}
	rec = do(t, s, http.MethodPut, base+"/reminder", `{"enabled":true,"type":"pager","timing":30}`)
	if got := decodeBody[errorResponse](t, rec); rec.Code != http.StatusBadRequest || got.Field != "type" {
		t.Errorf("bad reminder type = %d %+v", rec.Code, got)
	}

	rec = do(t, s, http.MethodPost, base+"/move", `{"date":"2024-01-20"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("move = %d %s", rec.Code, rec.Body.String())
	}
	moved := decodeBody[model.CalendarEvent](t, rec)
	if !moved.Date.Equal(time.Date(2024, 1, 20, 7, 0, 0, 0, time.UTC)) {
		t.Errorf("moved date = %v", moved.Date)
	}
	if rec := do(t, s, http.MethodPost, base+"/move", `{"date":"20/01/2024"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad move date = %d, want 400", rec.Code)
	}

	if rec := do(t, s, http.MethodDelete, base, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, base, ""); rec.Code != http.StatusNotFound {
		t.Errorf("after delete = %d, want 404", rec.Code)
	}
}

func TestOccurs_BadDate(t *testing.T) {
	s := newTestServer(t, nil)
	ev := createEvent(t, s, weeklyGym)
	for _, q := range []string{"", "?date=tomorrow"} {
		rec := do(t, s, http.MethodGet, "/api/events/"+ev.ID+"/occurs"+q, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("occurs%s = %d, want 400", q, rec.Code)
		}
	}
}

func TestCalendar_MonthGrid(t *testing.T) {
	s := newTestServer(t, nil)
	createEvent(t, s, weeklyGym)

	rec := do(t, s, http.MethodGet, "/api/calendar?year=2024&month=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
	}
	g := decodeBody[calendar.Grid](t, rec)
	if len(g.Cells) != calendar.GridCells {
		t.Fatalf("cells = %d", len(g.Cells))
	}
	withGym := 0
	for _, c := range g.Cells {
		withGym += len(c.Events)
		if c.Today && c.Date.Day != 10 {
			t.Errorf("today marked on %s", c.Date)
		}
	}
	if withGym != 5 {
		t.Errorf("Mondays with gym = %d, want 5", withGym)
	}

	if rec := do(t, s, http.MethodGet, "/api/calendar?year=2024&month=13", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("month 13 = %d, want 400", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/api/calendar?year=abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("year abc = %d, want 400", rec.Code)
	}

	def := decodeBody[calendar.Grid](t, do(t, s, http.MethodGet, "/api/calendar", ""))
	if def.Year != 2024 || def.Month != time.January {
		t.Errorf("default month = %d-%d", def.Year, def.Month)
	}
}

func TestCalendar_Export(t *testing.T) {
	s := newTestServer(t, nil)
	createEvent(t, s, weeklyGym)

	rec := do(t, s, http.MethodGet, "/api/calendar.ics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Errorf("Content-Type = %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{"BEGIN:VCALENDAR", "SUMMARY:Gym", "RRULE:FREQ=WEEKLY"} {
		if !strings.Contains(body, want) {
			t.Errorf("export missing %q", want)
		}
	}
}

func TestExternal_NoFeed(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(t, s, http.MethodGet, "/api/external?days=3", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decodeBody[externalResponse](t, rec)
	if len(got.Occurrences) != 0 || !got.Complete {
		t.Errorf("response = %+v", got)
	}
	if !got.RangeEnd.Equal(testNow.AddDate(0, 0, 3)) {
		t.Errorf("RangeEnd = %v", got.RangeEnd)
	}
	if rec := do(t, s, http.MethodPost, "/api/external/refresh", ""); rec.Code != http.StatusAccepted {
		t.Errorf("refresh = %d, want 202", rec.Code)
	}
}

func TestExternal_BadRangeParams(t *testing.T) {
	s := newTestServer(t, nil)
	tests := []struct {
		query string
		field string
	}{
		{"?days=abc", "days"},
		{"?backfill=1.5", "backfill"},
	}
	for _, tt := range tests {
		rec := do(t, s, http.MethodGet, "/api/external"+tt.query, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("GET /api/external%s = %d, want 400", tt.query, rec.Code)
			continue
		}
		if got := decodeBody[errorResponse](t, rec); got.Code != codeValidationFailed || got.Field != tt.field {
			t.Errorf("GET /api/external%s error = %+v", tt.query, got)
		}
	}
}

func TestRateLimit(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RateLimit.RPS = 0.5
	cfg.RateLimit.Burst = 2
	s := newTestServer(t, cfg)

	for i := 0; i < 2; i++ {
		if rec := do(t, s, http.MethodGet, "/api/events", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d = %d", i, rec.Code)
		}
	}
	rec := do(t, s, http.MethodGet, "/api/events", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q, want 2", got)
	}
	if got := decodeBody[errorResponse](t, rec); got.Code != codeRateLimited {
		t.Errorf("code = %s", got.Code)
	}
	if rec := do(t, s, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("/health should not be rate limited, got %d", rec.Code)
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 1, Burst: 1, CleanupInterval: time.Hour})
	defer rl.Stop()
	rl.limiterFor("10.0.0.1")
	rl.limiterFor("10.0.0.2")
	if rl.Len() != 2 {
		t.Fatalf("Len = %d, want 2", rl.Len())
	}
	rl.cleanup(time.Now().Add(3 * time.Hour))
	if rl.Len() != 0 {
		t.Errorf("Len after cleanup = %d, want 0", rl.Len())
	}
	rl.Stop()
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	mc := metrics.NewCollector(reg)
	s := newTestServerWith(t, nil, []calendar.Option{calendar.WithMetrics(mc)}, WithMetrics(mc, reg))
	ev := createEvent(t, s, weeklyGym)
	do(t, s, http.MethodGet, "/api/events/"+ev.ID+"/occurs?date=2024-01-08", "")

	rec := do(t, s, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`status_code="201"} 1`,
		`route="/api/events/{id}/occurs"`,
		`studycal_occurrence_checks_total 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("/metrics missing %s", want)
		}
	}
}

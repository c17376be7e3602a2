package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"studycal/internal/calendar"
	appLog "studycal/internal/log"
	"studycal/internal/model"
	"studycal/internal/recurrence"
)

// eventRequest is the body of POST /api/events and PUT /api/events/{id}.
type eventRequest struct {
	Title       string                  `json:"title" validate:"required,max=200"`
	Description string                  `json:"description" validate:"max=5000"`
	Date        *time.Time              `json:"date" validate:"required"`
	Type        model.EventType         `json:"type" validate:"omitempty,oneof=task goal"`
	Priority    model.Priority          `json:"priority" validate:"omitempty,oneof=low medium high"`
	Recurrence  *recurrence.Spec        `json:"recurringPattern"`
	Reminder    *model.ReminderSettings `json:"reminder"`
}

func (req eventRequest) input() calendar.EventInput {
	return calendar.EventInput{
		Title:       req.Title,
		Description: req.Description,
		Date:        *req.Date,
		Type:        req.Type,
		Priority:    req.Priority,
		Recurrence:  req.Recurrence,
		Reminder:    req.Reminder,
	}
}

// moveRequest is the body of POST /api/events/{id}/move.
type moveRequest struct {
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
}

type eventsResponse struct {
	Events []model.CalendarEvent `json:"events"`
}

type occursResponse struct {
	ID     string          `json:"id"`
	Date   recurrence.Date `json:"date"`
	Occurs bool            `json:"occurs"`
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.svc.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if events == nil {
		events = []model.CalendarEvent{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: events})
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeEvent(w, r)
	if !ok {
		return
	}
	ev, err := s.svc.Create(r.Context(), req.input())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/events/"+ev.ID)
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeEvent(w, r)
	if !ok {
		return
	}
	ev, err := s.svc.Update(r.Context(), chi.URLParam(r, "id"), req.input())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMoveEvent(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, badJSON(err))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	to, err := recurrence.ParseDate(req.Date)
	if err != nil {
		writeServiceError(w, r, &calendar.InputError{Field: "date", Reason: err.Error()})
		return
	}
	ev, err := s.svc.Move(r.Context(), chi.URLParam(r, "id"), to)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// handleSetRecurrence replaces the pattern with the body. A JSON null
// makes the event one-off.
func (s *Server) handleSetRecurrence(w http.ResponseWriter, r *http.Request) {
	var spec *recurrence.Spec
	if err := decodeJSON(w, r, &spec); err != nil {
		writeServiceError(w, r, badJSON(err))
		return
	}
	ev, err := s.svc.SetRecurrence(r.Context(), chi.URLParam(r, "id"), spec)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// handleSetReminder replaces the reminder with the body. A JSON null
// removes it.
func (s *Server) handleSetReminder(w http.ResponseWriter, r *http.Request) {
	var rs *model.ReminderSettings
	if err := decodeJSON(w, r, &rs); err != nil {
		writeServiceError(w, r, badJSON(err))
		return
	}
	if rs != nil {
		if err := s.validate.Struct(rs); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}
	ev, err := s.svc.SetReminder(r.Context(), chi.URLParam(r, "id"), rs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// handleOccurs answers GET /api/events/{id}/occurs?date=YYYY-MM-DD.
func (s *Server) handleOccurs(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		writeServiceError(w, r, &calendar.InputError{Field: "date", Reason: "is required"})
		return
	}
	d, err := recurrence.ParseDate(raw)
	if err != nil {
		writeServiceError(w, r, &calendar.InputError{Field: "date", Reason: "must be YYYY-MM-DD"})
		return
	}
	id := chi.URLParam(r, "id")
	ok, err := s.svc.OccursOn(r.Context(), id, d)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, occursResponse{ID: id, Date: d, Occurs: ok})
}

// handleMonth returns the 42-cell grid for ?year=&month=, defaulting to
// the current month in the calendar's timezone.
func (s *Server) handleMonth(w http.ResponseWriter, r *http.Request) {
	now := s.now().In(s.svc.Location())
	q := r.URL.Query()

	year, err := parseIntParam(q.Get("year"), now.Year())
	if err != nil {
		writeServiceError(w, r, &calendar.InputError{Field: "year", Reason: "must be an integer"})
		return
	}
	month, err := parseIntParam(q.Get("month"), int(now.Month()))
	if err != nil {
		writeServiceError(w, r, &calendar.InputError{Field: "month", Reason: "must be an integer"})
		return
	}

	g, err := s.svc.Month(r.Context(), year, time.Month(month))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "studycal"
	}
	doc, err := s.svc.Export(r.Context(), name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="studycal.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

// externalResponse is the JSON response shape for /api/external.
type externalResponse struct {
	Occurrences     []model.Occurrence `json:"occurrences"`
	TruncatedUIDs   []string           `json:"truncated_uids,omitempty"`
	RangeStart      time.Time          `json:"range_start"`
	RangeEnd        time.Time          `json:"range_end"`
	DisplayTimeZone string             `json:"display_timezone"`
	Complete        bool               `json:"complete"`
}

// handleExternal returns expanded occurrences of the subscribed ICS
// sources.
//
// GET /api/external?days=7&backfill=1
//   - days:     how many days ahead to include (default 7)
//   - backfill: how many past days to include (default 1)
func (s *Server) handleExternal(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days, err := parseIntParam(q.Get("days"), 7)
	if err != nil {
		writeServiceError(w, r, &calendar.InputError{Field: "days", Reason: "must be an integer"})
		return
	}
	if days <= 0 {
		days = 7
	}
	backfill, err := parseIntParam(q.Get("backfill"), 1)
	if err != nil {
		writeServiceError(w, r, &calendar.InputError{Field: "backfill", Reason: "must be an integer"})
		return
	}
	if backfill < 0 {
		backfill = 0
	}

	loc := s.svc.Location()
	now := s.now().In(loc)
	resp := externalResponse{
		Occurrences:     []model.Occurrence{},
		RangeStart:      now.AddDate(0, 0, -backfill),
		RangeEnd:        now.AddDate(0, 0, days),
		DisplayTimeZone: loc.String(),
		Complete:        true,
	}
	if s.feed == nil || len(s.feed.Sources()) == 0 {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	res, err := s.feed.Occurrences(r.Context(), resp.RangeStart, resp.RangeEnd, loc)
	if err != nil {
		// Partial results are still served; Complete tells the client.
		appLog.Error("api external: one or more ICS sources failed", err)
		resp.Complete = false
	}
	if res.Occurrences != nil {
		resp.Occurrences = res.Occurrences
	}
	resp.TruncatedUIDs = res.TruncatedEvents
	writeJSON(w, http.StatusOK, resp)
}

// handleExternalRefresh drops the cached subscriptions so the next read
// fetches them again.
func (s *Server) handleExternalRefresh(w http.ResponseWriter, r *http.Request) {
	if s.feed != nil {
		s.feed.Invalidate()
		appLog.Info("ics feed invalidated", "remote", clientKey(r))
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) decodeEvent(w http.ResponseWriter, r *http.Request) (eventRequest, bool) {
	var req eventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, badJSON(err))
		return req, false
	}
	if err := s.validate.Struct(req); err != nil {
		writeServiceError(w, r, err)
		return req, false
	}
	return req, true
}

func parseIntParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

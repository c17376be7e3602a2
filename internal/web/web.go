package web

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"

	"studycal/internal/calendar"
	"studycal/internal/config"
	"studycal/internal/ics"
	appLog "studycal/internal/log"
	"studycal/internal/metrics"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Server provides the JSON API over the calendar service.
type Server struct {
	cfg      *config.Config
	svc      *calendar.Service
	feed     *ics.Feed
	metrics  *metrics.Collector
	gatherer prometheus.Gatherer
	limiter  *RateLimiter
	validate *validator.Validate
	now      func() time.Time

	router chi.Router
}

// Option customises a Server.
type Option func(*Server)

// WithMetrics records request metrics on c and serves gatherer on /metrics.
func WithMetrics(c *metrics.Collector, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = c
		s.gatherer = gatherer
	}
}

// WithFeed exposes the subscribed ICS occurrences under /api/external.
func WithFeed(f *ics.Feed) Option {
	return func(s *Server) { s.feed = f }
}

// NewServer constructs a new Server and registers its routes.
func NewServer(cfg *config.Config, svc *calendar.Service, opts ...Option) *Server {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	s := &Server{
		cfg:      cfg,
		svc:      svc,
		validate: newValidator(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.limiter = NewRateLimiter(RateLimiterConfig{
		Rate:  cfg.RateLimit.RPS,
		Burst: cfg.RateLimit.Burst,
	})
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close stops background work owned by the server.
func (s *Server) Close() {
	s.limiter.Stop()
}

func (s *Server) registerRoutes() {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.metricsMiddleware)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.basicAuthEnabled() {
			appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
			r.Use(s.basicAuthMiddleware)
		}

		if s.gatherer != nil {
			r.Method(http.MethodGet, "/metrics", metrics.Handler(s.gatherer))
		}

		r.Route("/api", func(r chi.Router) {
			r.Use(s.limiter.Middleware)

			r.Route("/events", func(r chi.Router) {
				r.Get("/", s.handleListEvents)
				r.Post("/", s.handleCreateEvent)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetEvent)
					r.Put("/", s.handleUpdateEvent)
					r.Delete("/", s.handleDeleteEvent)
					r.Post("/move", s.handleMoveEvent)
					r.Put("/recurrence", s.handleSetRecurrence)
					r.Put("/reminder", s.handleSetReminder)
					r.Get("/occurs", s.handleOccurs)
				})
			})

			r.Get("/calendar", s.handleMonth)
			r.Get("/calendar.ics", s.handleExport)

			r.Get("/external", s.handleExternal)
			r.Post("/external/refresh", s.handleExternalRefresh)
		})
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password disables auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware requires the configured credentials. /health is
// registered outside the group it wraps.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="studycal", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "authentication required", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// metricsMiddleware records every request under its chi route pattern so
// IDs do not explode label cardinality.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.RecordHTTPRequest(route, r.Method, status, time.Since(start))
		appLog.Debug("http request", "method", r.Method, "route", route, "status", status, "duration", time.Since(start).String())
	})
}

// newValidator reports field errors by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON reads a single JSON value from r's body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

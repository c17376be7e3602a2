// Package metrics exposes Prometheus counters for the calendar service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric the service records. A nil *Collector is
// valid and records nothing, so packages can take one optionally.
type Collector struct {
	httpRequests     *prometheus.CounterVec
	httpLatency      *prometheus.HistogramVec
	gridRenders      prometheus.Counter
	occurrenceChecks prometheus.Counter
	remindersFired   *prometheus.CounterVec
	icsFetches       *prometheus.CounterVec
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studycal_http_requests_total",
			Help: "HTTP requests by route pattern, method and status code.",
		}, []string{"route", "method", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "studycal_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		gridRenders: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "studycal_month_grid_renders_total",
			Help: "Month grids built.",
		}),
		occurrenceChecks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "studycal_occurrence_checks_total",
			Help: "Recurring event date checks evaluated.",
		}),
		remindersFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studycal_reminders_fired_total",
			Help: "Reminders delivered by channel.",
		}, []string{"channel"}),
		icsFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studycal_ics_fetch_total",
			Help: "ICS subscription fetches by source and outcome.",
		}, []string{"source", "outcome"}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpLatency,
		c.gridRenders,
		c.occurrenceChecks,
		c.remindersFired,
		c.icsFetches,
	)
	return c
}

// RecordHTTPRequest records one served request.
func (c *Collector) RecordHTTPRequest(route, method string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	c.httpLatency.WithLabelValues(route).Observe(d.Seconds())
}

// RecordGridRender records a month grid build and the number of matcher
// calls it took.
func (c *Collector) RecordGridRender(checks int) {
	if c == nil {
		return
	}
	c.gridRenders.Inc()
	c.occurrenceChecks.Add(float64(checks))
}

// RecordOccurrenceChecks adds n matcher calls made outside grid renders.
func (c *Collector) RecordOccurrenceChecks(n int) {
	if c == nil {
		return
	}
	c.occurrenceChecks.Add(float64(n))
}

// RecordReminderFired records one reminder sent over channel.
func (c *Collector) RecordReminderFired(channel string) {
	if c == nil {
		return
	}
	c.remindersFired.WithLabelValues(channel).Inc()
}

// RecordICSFetch records one subscription fetch.
func (c *Collector) RecordICSFetch(sourceID, outcome string) {
	if c == nil {
		return
	}
	c.icsFetches.WithLabelValues(sourceID, outcome).Inc()
}

// Handler returns the Prometheus scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

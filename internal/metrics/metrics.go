// Package metrics exposes Prometheus collectors for the editor server and
// the project API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/conneroisu/playpen/internal/errors"
)

// Metrics holds all collectors. A nil *Metrics is valid and records
// nothing, which keeps tests and library callers free of registries.
type Metrics struct {
	registry *prometheus.Registry

	// Editor metrics
	ProjectLoads   *prometheus.CounterVec
	ProjectSaves   *prometheus.CounterVec
	SaveDuration   prometheus.Histogram
	PreviewRenders prometheus.Counter
	ConsoleProbes  *prometheus.CounterVec
	SessionsActive prometheus.Gauge

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ProjectLoads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playpen_project_loads_total",
				Help: "Project loads by result",
			},
			[]string{"result"},
		),
		ProjectSaves: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playpen_project_saves_total",
				Help: "Project saves by result",
			},
			[]string{"result"},
		),
		SaveDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "playpen_project_save_duration_seconds",
				Help:    "Time from save dispatch to response",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		PreviewRenders: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "playpen_preview_renders_total",
				Help: "Composed documents published to preview frames",
			},
		),
		ConsoleProbes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playpen_console_probes_total",
				Help: "Script probe runs by outcome",
			},
			[]string{"outcome"},
		),
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "playpen_editor_sessions_active",
				Help: "Mounted editor sessions",
			},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "playpen_ws_connections",
				Help: "Open editor WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playpen_ws_messages_total",
				Help: "WebSocket messages by direction and type",
			},
			[]string{"direction", "type"},
		),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playpen_http_requests_total",
				Help: "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "playpen_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func result(err error) string {
	if err == nil {
		return "ok"
	}
	return string(errors.TypeOf(err))
}

// ObserveLoad records the outcome of a project load.
func (m *Metrics) ObserveLoad(err error) {
	if m == nil {
		return
	}
	m.ProjectLoads.WithLabelValues(result(err)).Inc()
}

// ObserveSave records the outcome and latency of a project save.
func (m *Metrics) ObserveSave(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.ProjectSaves.WithLabelValues(result(err)).Inc()
	m.SaveDuration.Observe(d.Seconds())
}

// ObserveRender counts a published preview document.
func (m *Metrics) ObserveRender() {
	if m == nil {
		return
	}
	m.PreviewRenders.Inc()
}

// ObserveProbe counts a console probe run. outcome is "ok", "exception" or
// "interrupted".
func (m *Metrics) ObserveProbe(outcome string) {
	if m == nil {
		return
	}
	m.ConsoleProbes.WithLabelValues(outcome).Inc()
}

// SessionMounted adjusts the active session gauge.
func (m *Metrics) SessionMounted(delta int) {
	if m == nil {
		return
	}
	m.SessionsActive.Add(float64(delta))
}

// WSConnected adjusts the open connection gauge.
func (m *Metrics) WSConnected(delta int) {
	if m == nil {
		return
	}
	m.WSConnections.Add(float64(delta))
}

// ObserveMessage counts a WebSocket message. direction is "in" or "out".
func (m *Metrics) ObserveMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// RouteFunc names the route of a served request for labelling. It runs
// after the handler, so router-populated patterns are available.
type RouteFunc func(*http.Request) string

// PatternRoute labels requests with the http.ServeMux pattern.
func PatternRoute(r *http.Request) string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return "unmatched"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer, which
// the WebSocket upgrade needs.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Middleware records request count and latency.
func (m *Metrics) Middleware(route RouteFunc) func(http.Handler) http.Handler {
	if route == nil {
		route = PatternRoute
	}
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			name := route(r)
			m.RequestsTotal.WithLabelValues(r.Method, name, strconv.Itoa(rec.status)).Inc()
			m.RequestDuration.WithLabelValues(r.Method, name).Observe(time.Since(start).Seconds())
		})
	}
}

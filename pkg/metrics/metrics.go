// Package metrics exposes Prometheus instrumentation for the tracker server.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

const namespace = "tracker"

// Prerender outcomes reported by the edge handler
const (
	PrerenderHit      = "hit"
	PrerenderMiss     = "miss"
	PrerenderBypass   = "bypass"
	PrerenderNotFound = "not_found"
)

// Metrics owns a private registry and the collectors written by request
// handling, the edge handler and background jobs
type Metrics struct {
	registry *prometheus.Registry
	started  time.Time

	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	responseBytes *prometheus.CounterVec
	prerender     *prometheus.CounterVec
	renderTime    prometheus.Histogram
	botRequests   *prometheus.CounterVec
	imports       *prometheus.CounterVec
	logins        *prometheus.CounterVec
	purges        prometheus.Counter
}

// New creates the metric set and registers it along with Go runtime and
// process collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		started:  time.Now(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests handled, by route template and status",
			},
			[]string{"method", "route", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by route template",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		responseBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_response_bytes_total",
				Help:      "Bytes written in HTTP responses",
			},
			[]string{"method", "route"},
		),
		prerender: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "prerender_requests_total",
				Help:      "Crawler requests answered by the edge handler, by cache outcome",
			},
			[]string{"result"},
		),
		renderTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "prerender_render_duration_seconds",
				Help:      "Time spent rendering pages on a cache miss",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
			},
		),
		botRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bot_requests_total",
				Help:      "Requests from known crawlers",
			},
			[]string{"crawler"},
		),
		imports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "import_rows_total",
				Help:      "CSV rows processed by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "login_attempts_total",
				Help:      "CMS login attempts by result",
			},
			[]string{"result"},
		),
		purges: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "prerender_cache_purges_total",
				Help:      "Prerender cache invalidations",
			},
		),
	}

	m.registry.MustRegister(
		m.requests, m.duration, m.responseBytes,
		m.prerender, m.renderTime, m.botRequests,
		m.imports, m.logins, m.purges,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the server started",
		}, func() float64 { return time.Since(m.started).Seconds() }),
	)
	return m
}

// Register adds a collector owned by another component, such as the
// content gauges or the prerender cache size
func (m *Metrics) Register(c prometheus.Collector) error {
	return m.registry.Register(c)
}

// Registry exposes the underlying gatherer for tests and the handler
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteText encodes every gathered family as text, for dumps and debugging
func (m *Metrics) WriteText(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	encoder := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			return fmt.Errorf("failed to encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// RecordPrerender counts one edge response and, for renders, its latency
func (m *Metrics) RecordPrerender(result string, renderTime time.Duration) {
	m.prerender.WithLabelValues(result).Inc()
	if renderTime > 0 {
		m.renderTime.Observe(renderTime.Seconds())
	}
}

// RecordBot counts a request from a known crawler
func (m *Metrics) RecordBot(crawler string) {
	m.botRequests.WithLabelValues(crawler).Inc()
}

// RecordImport adds the outcome counts of one CSV import
func (m *Metrics) RecordImport(kind string, created, updated, skipped int) {
	m.imports.WithLabelValues(kind, "created").Add(float64(created))
	m.imports.WithLabelValues(kind, "updated").Add(float64(updated))
	m.imports.WithLabelValues(kind, "skipped").Add(float64(skipped))
}

// RecordLogin counts a login attempt
func (m *Metrics) RecordLogin(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	m.logins.WithLabelValues(result).Inc()
}

// RecordPurge counts a prerender cache invalidation
func (m *Metrics) RecordPurge() {
	m.purges.Inc()
}

// Middleware records request count, latency and response size. Routes are
// labelled with their mux template so slugs don't explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := routeLabel(r)
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
		m.duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		if rw.bytesWritten > 0 {
			m.responseBytes.WithLabelValues(r.Method, route).Add(float64(rw.bytesWritten))
		}
	})
}

func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "other"
}

type responseWriter struct {
	http.ResponseWriter
	bytesWritten int
	statusCode   int
	wroteHeader  bool
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	if !rw.wroteHeader {
		rw.statusCode = statusCode
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

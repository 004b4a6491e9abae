package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments of the service.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Permission oracle
	DecisionsTotal   *prometheus.CounterVec
	DecisionDuration prometheus.Histogram

	// Mutation gateway
	MutationsTotal *prometheus.CounterVec

	// Store
	StoreErrorsTotal *prometheus.CounterVec

	// Decision cache
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	// Business gauges, refreshed by the janitor
	AssessmentsTotal   prometheus.Gauge
	LibrariesTotal     prometheus.Gauge
	OrganisationsTotal prometheus.Gauge
}

// NewMetrics registers all instruments on the given registry. A nil
// registry creates a private one.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retrofit_http_requests_total",
				Help: "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "retrofit_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retrofit_decisions_total",
				Help: "Permission decisions by action, outcome and reason code",
			},
			[]string{"action", "outcome", "code"},
		),
		DecisionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "retrofit_decision_duration_seconds",
				Help:    "Permission decision latency",
				Buckets: []float64{.00001, .0001, .001, .01, .1},
			},
		),
		MutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retrofit_mutations_total",
				Help: "Gateway mutations by operation and status",
			},
			[]string{"operation", "status"},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retrofit_store_errors_total",
				Help: "Store failures by operation",
			},
			[]string{"operation"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "retrofit_decision_cache_hits_total",
				Help: "Decision cache hits",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "retrofit_decision_cache_misses_total",
				Help: "Decision cache misses",
			},
		),
		AssessmentsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "retrofit_assessments_total",
				Help: "Assessments currently stored",
			},
		),
		LibrariesTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "retrofit_libraries_total",
				Help: "Libraries currently stored",
			},
		),
		OrganisationsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "retrofit_organisations_total",
				Help: "Organisations currently stored",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal, m.HTTPRequestDuration,
		m.DecisionsTotal, m.DecisionDuration,
		m.MutationsTotal, m.StoreErrorsTotal,
		m.CacheHitsTotal, m.CacheMissesTotal,
		m.AssessmentsTotal, m.LibrariesTotal, m.OrganisationsTotal,
	)
	return m
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the response status for instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// InstrumentHandler wraps an HTTP handler with request metrics. Route
// should be the route template, not the raw path, to bound cardinality.
func (m *Metrics) InstrumentHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/imageoptimizer/internal/domain"
	"github.com/dunamismax/imageoptimizer/internal/estimator"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	estimations       *prometheus.CounterVec
	exportsTotal      *prometheus.CounterVec
	exportsEnqueued   *prometheus.CounterVec
	altTextRequests   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optimizer_api_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "optimizer_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optimizer_api_rate_limit_rejections_total",
			Help: "Total API requests rejected by rate limiting.",
		}, []string{"route"}),
		estimations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optimizer_estimations_total",
			Help: "Estimation lifecycle events by outcome.",
		}, []string{"outcome"}),
		exportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optimizer_exports_total",
			Help: "Total synchronous exports by status.",
		}, []string{"status"}),
		exportsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optimizer_queue_exports_enqueued_total",
			Help: "Total background exports enqueued.",
		}, []string{"queue"}),
		altTextRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optimizer_alttext_requests_total",
			Help: "Total alt text generation requests by status.",
		}, []string{"status"}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.rateLimitRejected,
		m.estimations,
		m.exportsTotal,
		m.exportsEnqueued,
		m.altTextRequests,
	)
	return m
}

// TrackRetainedPreviews exposes the current preview memory as a gauge read
// from fn at scrape time.
func (m *Metrics) TrackRetainedPreviews(fn func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "optimizer_preview_bytes_retained",
		Help: "Bytes of encoded previews currently held by live sessions.",
	}, func() float64 {
		return float64(fn())
	}))
}

// EstimatorObserver counts estimation outcomes across every session.
func (m *Metrics) EstimatorObserver() estimator.Observer {
	return estimationCounter{m.estimations}
}

type estimationCounter struct {
	vec *prometheus.CounterVec
}

func (c estimationCounter) Started(string, uint64) {
	c.vec.WithLabelValues("started").Inc()
}

func (c estimationCounter) Applied(_ string, state domain.PreviewState) {
	c.vec.WithLabelValues(string(state.Status)).Inc()
}

func (c estimationCounter) Discarded(string, uint64, uint64) {
	c.vec.WithLabelValues("discarded").Inc()
}

func (estimationCounter) Retained(int) {}

func (m *Metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		status := statusLabel(recorder.status)

		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

func statusLabel(status int) string {
	return strconv.Itoa(status)
}

// routeLabel collapses ids in a request path so labels stay bounded:
// /v1/sessions/abc/items/def/preview becomes
// /v1/sessions/{session}/items/{item}/preview.
func routeLabel(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 1; i < len(parts); i++ {
		switch parts[i-1] {
		case "sessions":
			if parts[i] != "restore" {
				parts[i] = "{session}"
			}
		case "items":
			parts[i] = "{item}"
		case "exports":
			if i == 2 {
				parts[i] = "{export}"
			}
		}
	}
	return "/" + strings.Join(parts, "/")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry          *prometheus.Registry
	exportsTotal      *prometheus.CounterVec
	exportDuration    *prometheus.HistogramVec
	activeExports     prometheus.Gauge
	archiveEntries    prometheus.Counter
	itemFailuresTotal *prometheus.CounterVec
	archiveBytesTotal prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		exportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optimizer_worker_exports_total",
			Help: "Total background exports by final status.",
		}, []string{"status"}),
		exportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "optimizer_worker_export_duration_seconds",
			Help:    "Duration of each background export.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		activeExports: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "optimizer_worker_active_exports",
			Help: "Current number of exports running in the worker.",
		}),
		archiveEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optimizer_worker_archive_entries_total",
			Help: "Total images written into export archives.",
		}),
		itemFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optimizer_worker_item_failures_total",
			Help: "Total items that failed during background exports by cause.",
		}, []string{"cause"}),
		archiveBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optimizer_worker_archive_bytes_total",
			Help: "Total bytes of stored export archives.",
		}),
	}

	registry.MustRegister(
		m.exportsTotal,
		m.exportDuration,
		m.activeExports,
		m.archiveEntries,
		m.itemFailuresTotal,
		m.archiveBytesTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

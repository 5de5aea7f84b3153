// Package metrics holds the Prometheus collectors shared by the pipeline
// components. They are registered on Registry, which the HTTP server
// exposes at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry is the process registry for docingest metrics
var Registry = prometheus.NewRegistry()

var (
	DocumentsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docingest_documents_processed_total",
			Help: "Pipeline runs by final status",
		},
		[]string{"status"},
	)
	PipelinesInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "docingest_pipelines_inflight",
			Help: "Number of documents currently inside the pipeline",
		},
	)
	PipelineDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docingest_pipeline_duration_seconds",
			Help:    "Duration of completed pipeline runs in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7min
		},
	)
	PassagesIndexed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docingest_passages_indexed_total",
			Help: "Passages written to the index",
		},
	)
	WatchSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docingest_watch_submissions_total",
			Help: "Watch reconciler decisions by result",
		},
		[]string{"result"},
	)
	ReparseItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docingest_reparse_items_total",
			Help: "Reparse targets by result",
		},
		[]string{"result"},
	)
	ConnectionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docingest_connections_active",
			Help: "Connected notification clients and protocol sessions",
		},
		[]string{"kind"},
	)
)

func init() {
	Registry.MustRegister(
		DocumentsProcessed,
		PipelinesInflight,
		PipelineDuration,
		PassagesIndexed,
		WatchSubmissions,
		ReparseItems,
		ConnectionsActive,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

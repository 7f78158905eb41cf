package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Indexing and search Prometheus metrics.
var (
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_jobs_total",
			Help:      "Finished indexing jobs by kind and status",
		},
		[]string{"kind", "status"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "index_job_duration_seconds",
			Help:      "File indexing duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 180, 600},
		},
		[]string{"status"},
	)

	PagesIndexedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_indexed_total",
			Help:      "Indexed pages by extraction method",
		},
		[]string{"method"},
	)

	PageWarningsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "page_warnings_total",
			Help:      "Pages indexed with a processing warning",
		},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingest_queue_depth",
			Help:      "Files waiting in the ingestion queue",
		},
	)

	StaleJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stale_jobs",
			Help:      "Running jobs older than the maximum job duration",
		},
	)

	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_requests_total",
			Help:      "Search requests by mode and degraded flag",
		},
		[]string{"mode", "degraded"},
	)

	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Search duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"mode"},
	)
)

var indexOnce sync.Once

// RegisterIndexMetrics registers indexing and search collectors with the
// default registry. Safe to call more than once.
func RegisterIndexMetrics() {
	indexOnce.Do(func() {
		prometheus.MustRegister(JobsTotal, JobDuration, PagesIndexedTotal, PageWarningsTotal,
			QueueDepth, StaleJobs, SearchRequestsTotal, SearchDuration)
	})
}

package metrics

import (
	"github.com/livepeer/transcode-worker/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WorkerMetrics are the Prometheus series this process exposes, trimmed to
// the job-runner/encoder/workspace domain this worker actually touches.
type WorkerMetrics struct {
	Version *prometheus.CounterVec

	JobsInFlight      prometheus.Gauge
	JobsClaimed       prometheus.Counter
	JobsCompleted     *prometheus.CounterVec
	JobDuration       *prometheus.HistogramVec
	CatalogContention prometheus.Counter

	EncoderInvocations *prometheus.CounterVec
	EncoderDuration    *prometheus.HistogramVec
	ProbeRetries       prometheus.Counter

	WorkspaceOperations *prometheus.CounterVec
}

func NewMetrics() *WorkerMetrics {
	m := &WorkerMetrics{
		Version: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "version",
			Help: "Current Git SHA / Tag that's running. Incremented once on app startup.",
		}, []string{"app", "version"}),

		JobsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "jobs_in_flight",
			Help: "A count of the jobs currently being processed by this worker",
		}),
		JobsClaimed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "jobs_claimed_total",
			Help: "Total number of jobs successfully claimed from the catalog",
		}),
		JobsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs that reached a terminal state, by status",
		}, []string{"status"}),
		JobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Wall-clock time from claim to terminal state",
			Buckets: prometheus.ExponentialBuckets(1, 2, 15),
		}, []string{"status"}),
		CatalogContention: promauto.NewCounter(prometheus.CounterOpts{
			Name: "catalog_contention_total",
			Help: "Number of jobs whose claim was given up after bounded retries because the row stayed missing, locked by another worker or not claimable",
		}),

		EncoderInvocations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "encoder_invocations_total",
			Help: "Total number of encoder subprocess invocations, by role and outcome",
		}, []string{"role", "outcome"}),
		EncoderDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "encoder_duration_seconds",
			Help:    "Time taken by an encoder subprocess invocation",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"role"}),
		ProbeRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "probe_retries_total",
			Help: "Number of ffprobe invocations retried after a transient failure",
		}),

		WorkspaceOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "workspace_operations_total",
			Help: "Workspace backend operations, by backend, operation and outcome",
		}, []string{"backend", "operation", "outcome"}),
	}

	m.Version.WithLabelValues("transcode-worker", config.Version).Inc()

	return m
}

var Metrics = NewMetrics()

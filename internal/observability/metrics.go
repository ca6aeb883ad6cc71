package observability

import "github.com/prometheus/client_golang/prometheus"

// Domain collectors for the track pipeline. Label sets are fixed and small:
// strategy and source names come from code, never from user input.
var (
	// ResolveTotal counts resolver strategy outcomes
	// (result: ok|skipped|failed|empty).
	ResolveTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "track_resolve_total",
			Help: "Metadata resolver strategy attempts by outcome.",
		},
		[]string{"strategy", "result"},
	)

	// DownloadAttempts counts individual source attempts (result: ok|error|missing).
	DownloadAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "track_download_attempts_total",
			Help: "Audio source download attempts by outcome.",
		},
		[]string{"source", "result"},
	)

	// QueueDepth gauges jobs waiting in the admission queue (excludes in-flight).
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "track_queue_depth",
			Help: "Jobs waiting in the admission queue.",
		},
	)

	// JobsTotal counts finished jobs by terminal outcome (done|failed).
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "track_jobs_total",
			Help: "Finished jobs by outcome.",
		},
		[]string{"outcome"},
	)

	// JobDuration records wall time from dequeue to terminal state.
	JobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "track_job_duration_seconds",
			Help:    "Duration of a job from dequeue to terminal state.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		},
	)
)

func init() {
	prometheus.MustRegister(ResolveTotal, DownloadAttempts, QueueDepth, JobsTotal, JobDuration)
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the job lifecycle counters exposed on /metrics.
type Metrics struct {
	JobsSubmitted prometheus.Counter
	JobsCompleted prometheus.Counter
	JobsFailed    prometheus.Counter
	JobsRetried   prometheus.Counter
	JobsCancelled prometheus.Counter
	JobDuration   prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		JobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "control_jobs_submitted_total",
			Help: "Jobs accepted into the queue.",
		}),
		JobsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "control_jobs_completed_total",
			Help: "Jobs that finished successfully.",
		}),
		JobsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "control_jobs_failed_total",
			Help: "Jobs that exhausted retries or failed permanently.",
		}),
		JobsRetried: factory.NewCounter(prometheus.CounterOpts{
			Name: "control_jobs_retried_total",
			Help: "Job attempts that were requeued for retry.",
		}),
		JobsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "control_jobs_cancelled_total",
			Help: "Jobs cancelled by user request.",
		}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "control_job_duration_seconds",
			Help:    "Wall-clock duration of job execution.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),
	}
}

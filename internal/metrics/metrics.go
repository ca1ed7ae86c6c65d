package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	SchedulerTicks     prometheus.Counter
	JobsEnqueued       prometheus.Counter
	JobsProcessed      prometheus.Counter
	JobsRequeued       prometheus.Counter
	JobsSkipped        prometheus.Counter
	MessagesFetched    prometheus.Counter
	DuplicatesSkipped  prometheus.Counter
	ExtractionFailures prometheus.Counter
	Submissions        prometheus.Counter
	SubmissionFailures prometheus.Counter
	JobDuration        prometheus.Histogram
	InFlightJobs       prometheus.Gauge
}

// NewMetrics creates new Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		SchedulerTicks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailpipe_scheduler_ticks_total",
			Help: "Total number of scheduler ticks",
		}),
		JobsEnqueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailpipe_jobs_enqueued_total",
			Help: "Total number of mailbox check jobs enqueued",
		}),
		JobsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailpipe_jobs_processed_total",
			Help: "Total number of jobs processed to completion",
		}),
		JobsRequeued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailpipe_jobs_requeued_total",
			Help: "Total number of jobs returned to the queue after transient failures",
		}),
		JobsSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailpipe_jobs_skipped_total",
			Help: "Total number of jobs skipped because the configuration was missing or disabled",
		}),
		MessagesFetched: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailpipe_messages_fetched_total",
			Help: "Total number of candidate messages fetched",
		}),
		DuplicatesSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailpipe_duplicates_skipped_total",
			Help: "Total number of messages skipped as already processed",
		}),
		ExtractionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailpipe_extraction_failures_total",
			Help: "Total number of messages that permanently failed extraction",
		}),
		Submissions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailpipe_submissions_total",
			Help: "Total number of successful ledger submissions",
		}),
		SubmissionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailpipe_submission_failures_total",
			Help: "Total number of failed ledger submissions",
		}),
		JobDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailpipe_job_duration_seconds",
			Help:    "Time spent processing one mailbox check job",
			Buckets: prometheus.DefBuckets,
		}),
		InFlightJobs: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "mailpipe_in_flight_jobs",
			Help: "Number of jobs currently tracked as in flight by the scheduler",
		}),
	}
}

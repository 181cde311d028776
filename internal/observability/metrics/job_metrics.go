package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	JobReasonDeadlineExceeded     = "deadline_exceeded"
	JobReasonDBLockTimeout        = "db_lock_timeout"
	JobReasonSerializationFailure = "serialization_failure"
	JobReasonUniqueViolation      = "unique_violation"
	JobReasonRetriable            = "retriable"
	JobReasonUnknown              = "unknown"
)

const (
	JobOutcomeDone        = "done"
	JobOutcomeRescheduled = "rescheduled"
	JobOutcomeFailed      = "failed"
	JobOutcomeSkipped     = "skipped"
)

// JobMetrics captures background job health for the grant worker.
type JobMetrics struct {
	jobRuns      *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	jobOutcomes  *prometheus.CounterVec
	jobErrors    *prometheus.CounterVec
	jobLag       *prometheus.HistogramVec
	enqueued     *prometheus.CounterVec
	recovered    prometheus.Counter
	pollBatch    prometheus.Histogram
	lockContends *prometheus.CounterVec
}

var (
	jobMetricsOnce sync.Once
	jobMetrics     *JobMetrics
)

// Jobs returns the singleton job metrics registry.
func Jobs() *JobMetrics {
	return JobsWithConfig(Config{})
}

// JobsWithConfig returns the singleton job metrics registry using config labels.
func JobsWithConfig(cfg Config) *JobMetrics {
	jobMetricsOnce.Do(func() {
		jobMetrics = newJobMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return jobMetrics
}

// ResetJobMetricsForTest resets the job metrics singleton for tests.
func ResetJobMetricsForTest() {
	jobMetricsOnce = sync.Once{}
	jobMetrics = nil
}

func newJobMetrics(registerer prometheus.Registerer, cfg Config) *JobMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "railzway-benefits"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &JobMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "benefits_job_runs_total",
			Help:        "Background job executions by job name.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "benefits_job_duration_seconds",
			Help:        "Background job handler latency.",
			Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "benefits_job_outcomes_total",
			Help:        "Background job outcomes (done, rescheduled, failed, skipped).",
			ConstLabels: constLabels,
		}, []string{"job", "outcome"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "benefits_job_errors_total",
			Help:        "Background job errors by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		jobLag: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "benefits_job_start_lag_seconds",
			Help:        "Delay between a job becoming runnable and a worker claiming it.",
			Buckets:     []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300, 900, 3600},
			ConstLabels: constLabels,
		}, []string{"job"}),
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "benefits_jobs_enqueued_total",
			Help:        "Jobs enqueued by name.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		recovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "benefits_jobs_recovered_total",
			Help:        "Stuck running jobs returned to the pending queue.",
			ConstLabels: constLabels,
		}),
		pollBatch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "benefits_worker_poll_batch_size",
			Help:        "Jobs claimed per worker poll.",
			Buckets:     []float64{0, 1, 5, 10, 25, 50, 100},
			ConstLabels: constLabels,
		}),
		lockContends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "benefits_grant_lock_contention_total",
			Help:        "Grant lock acquisitions that found the tuple already locked.",
			ConstLabels: constLabels,
		}, []string{"job"}),
	}

	registerer.MustRegister(
		m.jobRuns,
		m.jobDuration,
		m.jobOutcomes,
		m.jobErrors,
		m.jobLag,
		m.enqueued,
		m.recovered,
		m.pollBatch,
		m.lockContends,
	)
	return m
}

func (m *JobMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *JobMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *JobMetrics) ObserveStartLag(job string, lag time.Duration) {
	if m == nil || lag < 0 {
		return
	}
	m.jobLag.WithLabelValues(job).Observe(lag.Seconds())
}

func (m *JobMetrics) IncOutcome(job, outcome string) {
	if m == nil {
		return
	}
	m.jobOutcomes.WithLabelValues(job, outcome).Inc()
}

func (m *JobMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
}

func (m *JobMetrics) IncEnqueued(job string) {
	if m == nil {
		return
	}
	m.enqueued.WithLabelValues(job).Inc()
}

func (m *JobMetrics) AddRecovered(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.recovered.Add(float64(count))
}

func (m *JobMetrics) ObservePollBatch(size int) {
	if m == nil {
		return
	}
	m.pollBatch.Observe(float64(size))
}

func (m *JobMetrics) IncLockContention(job string) {
	if m == nil {
		return
	}
	m.lockContends.WithLabelValues(job).Inc()
}

type retryable interface {
	RetryDelay() (time.Duration, bool)
}

// ClassifyJobReason maps job errors to low-cardinality reasons.
func ClassifyJobReason(err error) string {
	if err == nil {
		return JobReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return JobReasonDeadlineExceeded
	}
	var r retryable
	if errors.As(err, &r) {
		return JobReasonRetriable
	}
	if hasPGCode(err, "55P03") {
		return JobReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return JobReasonSerializationFailure
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return JobReasonUniqueViolation
	}
	return JobReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

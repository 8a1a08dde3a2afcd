package jobmetrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Posting outcomes recorded by ObservePosting.
const (
	OutcomePosted    = "posted"
	OutcomeRejected  = "rejected"
	OutcomeRetry     = "retry"
	OutcomeAbandoned = "abandoned"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs       *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	postings   *prometheus.CounterVec
	violations *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// ObservePosting counts one journal posting attempt by outcome.
func (m *Metrics) ObservePosting(outcome string) {
	if m == nil || outcome == "" {
		return
	}
	m.postings.WithLabelValues(outcome).Inc()
}

// AddViolations increments the balance integrity counter for a ledger and
// period.
func (m *Metrics) AddViolations(ledgerID int64, period string, count int) {
	if m == nil || count <= 0 {
		return
	}
	ledger := "0"
	if ledgerID > 0 {
		ledger = strconv.FormatInt(ledgerID, 10)
	}
	m.violations.WithLabelValues(ledger, period).Add(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	postings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_gl_postings_total",
		Help: "Journal posting attempts grouped by outcome.",
	}, []string{"outcome"})
	violations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_gl_integrity_violations_total",
		Help: "Balance cube cells failing the integrity check, by ledger and period.",
	}, []string{"ledger", "period"})
	registerer.MustRegister(runs, failures, duration, postings, violations)
	return &Metrics{runs: runs, failures: failures, duration: duration, postings: postings, violations: violations}
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// IntegrityJobMetrics records metadata for integrity batch jobs.
type IntegrityJobMetrics struct {
	duration  *prometheus.HistogramVec
	success   *prometheus.CounterVec
	failure   *prometheus.CounterVec
	deletions *prometheus.CounterVec
}

// NewIntegrityJobMetrics registers the integrity collectors on the provided
// registerer.
func NewIntegrityJobMetrics(reg prometheus.Registerer) *IntegrityJobMetrics {
	if reg == nil {
		return &IntegrityJobMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "integrity_job_duration_seconds",
		Help:    "Duration of integrity jobs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "integrity_job_success",
		Help: "Successful integrity job executions.",
	}, []string{"job"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "integrity_job_failure",
		Help: "Failed integrity job executions.",
	}, []string{"job"})
	deletions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "integrity_deletions_total",
		Help: "Rows deleted by the cleanup job, by collection.",
	}, []string{"collection"})
	reg.MustRegister(duration, success, failure, deletions)
	return &IntegrityJobMetrics{
		duration:  duration,
		success:   success,
		failure:   failure,
		deletions: deletions,
	}
}

// ObserveDuration records the duration for the named job.
func (m *IntegrityJobMetrics) ObserveDuration(job string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(job)).Observe(duration.Seconds())
}

// IncSuccess increments the success counter for the named job.
func (m *IntegrityJobMetrics) IncSuccess(job string) {
	if m == nil || m.success == nil {
		return
	}
	m.success.WithLabelValues(normalizeLabel(job)).Inc()
}

// IncFailure increments the failure counter for the named job.
func (m *IntegrityJobMetrics) IncFailure(job string) {
	if m == nil || m.failure == nil {
		return
	}
	m.failure.WithLabelValues(normalizeLabel(job)).Inc()
}

// AddDeletions counts executed cleanup deletions for a collection.
func (m *IntegrityJobMetrics) AddDeletions(collection string, count int) {
	if m == nil || m.deletions == nil || count <= 0 {
		return
	}
	m.deletions.WithLabelValues(normalizeLabel(collection)).Add(float64(count))
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics records queue-drain outcomes. All methods are nil-safe so that
// components can run without a registry in tests.
type SyncMetrics struct {
	drainDuration prometheus.Histogram
	opsAcked      prometheus.Counter
	opsFailed     prometheus.Counter
	opsAbandoned  prometheus.Counter
	queueDepth    prometheus.Gauge
}

// NewSyncMetrics registers the sync collectors on the provided registerer.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		return &SyncMetrics{}
	}
	drainDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_drain_duration_seconds",
		Help:    "Duration of queue drain cycles in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	opsAcked := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_ops_acked_total",
		Help: "Pending operations acknowledged by the remote store.",
	})
	opsFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_ops_failed_total",
		Help: "Pending operation attempts that failed and stayed queued.",
	})
	opsAbandoned := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_ops_abandoned_total",
		Help: "Pending operations evicted after exhausting retries.",
	})
	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sync_queue_depth",
		Help: "Pending operations currently queued.",
	})
	reg.MustRegister(drainDuration, opsAcked, opsFailed, opsAbandoned, queueDepth)
	return &SyncMetrics{
		drainDuration: drainDuration,
		opsAcked:      opsAcked,
		opsFailed:     opsFailed,
		opsAbandoned:  opsAbandoned,
		queueDepth:    queueDepth,
	}
}

// ObserveDrain records the duration of one drain cycle.
func (m *SyncMetrics) ObserveDrain(duration time.Duration) {
	if m == nil || m.drainDuration == nil {
		return
	}
	m.drainDuration.Observe(duration.Seconds())
}

// IncAcked counts a successfully acknowledged operation.
func (m *SyncMetrics) IncAcked() {
	if m == nil || m.opsAcked == nil {
		return
	}
	m.opsAcked.Inc()
}

// IncFailed counts a failed attempt that remains queued.
func (m *SyncMetrics) IncFailed() {
	if m == nil || m.opsFailed == nil {
		return
	}
	m.opsFailed.Inc()
}

// IncAbandoned counts an operation evicted past the retry ceiling.
func (m *SyncMetrics) IncAbandoned() {
	if m == nil || m.opsAbandoned == nil {
		return
	}
	m.opsAbandoned.Inc()
}

// SetQueueDepth publishes the current queue length.
func (m *SyncMetrics) SetQueueDepth(depth int64) {
	if m == nil || m.queueDepth == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulingMetrics exposes counters/histograms for the scheduling core and
// its persistence pipeline.
type SchedulingMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationLatency  *prometheus.HistogramVec
	pendingChanges    prometheus.Gauge
	persistFailures   prometheus.Counter
	stalledAttempts   prometheus.Gauge
	auditViolations   *prometheus.CounterVec
	idempotentReplays *prometheus.CounterVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "operations_total",
			Help:      "Scheduling operations by outcome",
		}, []string{"operation", "outcome"}),
		operationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "operation_latency_seconds",
			Help:      "Latency of scheduling operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		pendingChanges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clinic",
			Subsystem: "persistence",
			Name:      "pending_changes",
			Help:      "Committed changes not yet written to storage",
		}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "persistence",
			Name:      "failures_total",
			Help:      "Failed attempts to write a change to storage",
		}),
		stalledAttempts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clinic",
			Subsystem: "persistence",
			Name:      "stalled_attempts",
			Help:      "Consecutive failed attempts to write the oldest unsaved change",
		}),
		auditViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "audit",
			Name:      "violations_total",
			Help:      "Invariant violations found by the audit worker",
		}, []string{"check"}),
		idempotentReplays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "api",
			Name:      "idempotent_replays_total",
			Help:      "Requests answered from a previously stored idempotency key",
		}, []string{"scope"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.operationsTotal, m.operationLatency, m.pendingChanges, m.persistFailures, m.stalledAttempts, m.auditViolations, m.idempotentReplays)
	return m
}

func (m *SchedulingMetrics) ObserveOperation(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, outcome).Inc()
	m.operationLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *SchedulingMetrics) SetPendingChanges(n int) {
	if m == nil {
		return
	}
	m.pendingChanges.Set(float64(n))
}

func (m *SchedulingMetrics) IncPersistFailure() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

func (m *SchedulingMetrics) SetStalledAttempts(n int) {
	if m == nil {
		return
	}
	m.stalledAttempts.Set(float64(n))
}

func (m *SchedulingMetrics) AddAuditViolations(check string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.auditViolations.WithLabelValues(check).Add(float64(n))
}

func (m *SchedulingMetrics) IncIdempotentReplay(scope string) {
	if m == nil {
		return
	}
	m.idempotentReplays.WithLabelValues(scope).Inc()
}

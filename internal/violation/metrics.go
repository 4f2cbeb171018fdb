package violation

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for violation tracking and audit delivery.
type Metrics struct {
	Recorded     *prometheus.CounterVec
	Suppressed   *prometheus.CounterVec
	Terminations prometheus.Counter

	AuditDelivered  prometheus.Counter
	AuditRetries    prometheus.Counter
	AuditDropped    prometheus.Counter
	AuditQueueDepth prometheus.Gauge
}

// NewMetrics returns the process-wide metrics, registering them on first use.
//
// Metrics:
//   - proctor_violations_recorded_total{category}
//   - proctor_violations_suppressed_total{category}
//   - proctor_violation_terminations_total
//   - proctor_audit_delivered_total
//   - proctor_audit_retries_total
//   - proctor_audit_dropped_total
//   - proctor_audit_queue_depth
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			Recorded: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "proctor_violations_recorded_total",
					Help: "Integrity violations appended to a session log",
				},
				[]string{"category"},
			),
			Suppressed: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "proctor_violations_suppressed_total",
					Help: "Focus violations ignored while a code question was active",
				},
				[]string{"category"},
			),
			Terminations: promauto.NewCounter(prometheus.CounterOpts{
				Name: "proctor_violation_terminations_total",
				Help: "Sessions whose violation thresholds were reached",
			}),
			AuditDelivered: promauto.NewCounter(prometheus.CounterOpts{
				Name: "proctor_audit_delivered_total",
				Help: "Integrity events acknowledged by the audit sink",
			}),
			AuditRetries: promauto.NewCounter(prometheus.CounterOpts{
				Name: "proctor_audit_retries_total",
				Help: "Failed audit delivery attempts that were retried",
			}),
			AuditDropped: promauto.NewCounter(prometheus.CounterOpts{
				Name: "proctor_audit_dropped_total",
				Help: "Integrity events still queued when the auditor was closed",
			}),
			AuditQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "proctor_audit_queue_depth",
				Help: "Integrity events waiting for delivery",
			}),
		}
	})
	return globalMetrics
}

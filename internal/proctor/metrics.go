package proctor

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for session orchestration.
type Metrics struct {
	SessionsStarted  prometheus.Counter
	SessionsFinished *prometheus.CounterVec
	ActiveSessions   prometheus.Gauge
	AnswersSubmitted *prometheus.CounterVec
	GradingOutcomes  *prometheus.CounterVec
	SubmitDuration   prometheus.Histogram
	EventsDropped    prometheus.Counter
}

// NewMetrics returns the process-wide orchestration metrics.
//
// Metrics:
//   - proctor_sessions_started_total
//   - proctor_sessions_finished_total{outcome} - completed, terminated or abandoned
//   - proctor_sessions_active
//   - proctor_answers_submitted_total{kind,status}
//   - proctor_grading_outcomes_total{outcome} - ok, rate_limited, error
//   - proctor_submit_duration_seconds
//   - proctor_events_dropped_total
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "proctor_sessions_started_total",
				Help: "Sessions whose orchestrator loop started",
			}),
			SessionsFinished: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "proctor_sessions_finished_total",
					Help: "Sessions that left the orchestrator loop, by outcome",
				},
				[]string{"outcome"},
			),
			ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "proctor_sessions_active",
				Help: "Sessions with a running orchestrator loop",
			}),
			AnswersSubmitted: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "proctor_answers_submitted_total",
					Help: "Answer submissions by question kind and status",
				},
				[]string{"kind", "status"},
			),
			GradingOutcomes: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "proctor_grading_outcomes_total",
					Help: "Grading requests by outcome",
				},
				[]string{"outcome"},
			),
			SubmitDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "proctor_submit_duration_seconds",
				Help:    "Time spent submitting and grading one answer",
				Buckets: prometheus.DefBuckets,
			}),
			EventsDropped: promauto.NewCounter(prometheus.CounterOpts{
				Name: "proctor_events_dropped_total",
				Help: "Caller events dropped because the event buffer was full",
			}),
		}
	})
	return globalMetrics
}

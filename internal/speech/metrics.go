package speech

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for speech capture.
type Metrics struct {
	Restarts          prometheus.Counter
	StreamErrors      prometheus.Counter
	PermissionRevoked prometheus.Counter
	Unavailable       prometheus.Counter
}

// NewMetrics returns the process-wide speech metrics.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			Restarts: promauto.NewCounter(prometheus.CounterOpts{
				Name: "proctor_speech_restarts_total",
				Help: "Recognizer streams reopened after ending on their own",
			}),
			StreamErrors: promauto.NewCounter(prometheus.CounterOpts{
				Name: "proctor_speech_stream_errors_total",
				Help: "Recognizer streams that failed to open or ended with an error",
			}),
			PermissionRevoked: promauto.NewCounter(prometheus.CounterOpts{
				Name: "proctor_speech_permission_revoked_total",
				Help: "Captures stopped because microphone permission was revoked",
			}),
			Unavailable: promauto.NewCounter(prometheus.CounterOpts{
				Name: "proctor_speech_unavailable_total",
				Help: "Captures stopped because the recognizer kept failing to open",
			}),
		}
	})
	return globalMetrics
}

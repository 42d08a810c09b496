package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder counts admission decisions. It satisfies middleware.Observer.
type Recorder struct {
	decisions *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewRecorder registers the decision metrics with reg.
func NewRecorder(namespace string, reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)

	return &Recorder{
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Total number of admission decisions, by outcome",
			},
			[]string{"outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "decision_duration_seconds",
				Help:      "Time to reach an admission decision, including queue wait",
				Buckets:   prometheus.ExponentialBuckets(0.000001, 4, 14), // 1µs to ~67s
			},
			[]string{"outcome"},
		),
	}
}

// Observe records one decision.
func (r *Recorder) Observe(outcome string, waited time.Duration) {
	r.decisions.WithLabelValues(outcome).Inc()
	r.duration.WithLabelValues(outcome).Observe(waited.Seconds())
}

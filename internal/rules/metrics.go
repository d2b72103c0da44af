package rules

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for rule evaluation. A nil *Metrics records nothing.
type Metrics struct {
	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	eventsEmitted      *prometheus.CounterVec
	eventsSuppressed   *prometheus.CounterVec
}

// NewMetrics creates and registers rule metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		evaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "healthd",
			Subsystem: "rule",
			Name:      "evaluations_total",
			Help:      "Total rule evaluations performed",
		}, []string{"rule", "result"}),

		evaluationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "healthd",
			Subsystem: "rule",
			Name:      "evaluation_duration_seconds",
			Help:      "Time spent evaluating a rule for one cycle",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"rule"}),

		eventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "healthd",
			Subsystem: "rule",
			Name:      "events_emitted_total",
			Help:      "Events handed to the event sink",
		}, []string{"rule", "kind"}),

		eventsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "healthd",
			Subsystem: "rule",
			Name:      "events_suppressed_total",
			Help:      "Negative events dropped because the previous cycle reported them unchanged",
		}, []string{"rule"}),
	}

	reg.MustRegister(m.evaluationsTotal, m.evaluationDuration, m.eventsEmitted, m.eventsSuppressed)
	return m
}

func (m *Metrics) observeEvaluation(t Type, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.evaluationsTotal.WithLabelValues(string(t), result).Inc()
	m.evaluationDuration.WithLabelValues(string(t)).Observe(d.Seconds())
}

func (m *Metrics) emitted(t Type, kind string) {
	if m == nil {
		return
	}
	m.eventsEmitted.WithLabelValues(string(t), kind).Inc()
}

func (m *Metrics) suppressed(t Type, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.eventsSuppressed.WithLabelValues(string(t)).Add(float64(n))
}

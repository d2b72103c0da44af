package monitor

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for evaluation cycles. A nil *Metrics records nothing.
type Metrics struct {
	cyclesTotal    *prometheus.CounterVec
	publishedTotal *prometheus.CounterVec
}

// NewMetrics creates and registers monitor metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		cyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "healthd",
			Subsystem: "monitor",
			Name:      "cycles_total",
			Help:      "System state snapshots processed",
		}, []string{"result"}),

		publishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "healthd",
			Subsystem: "monitor",
			Name:      "topics_published_total",
			Help:      "Bus publications by topic",
		}, []string{"topic"}),
	}

	reg.MustRegister(m.cyclesTotal, m.publishedTotal)
	return m
}

func (m *Metrics) ingest(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.cyclesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) published(topic string) {
	if m == nil {
		return
	}
	m.publishedTotal.WithLabelValues(topic).Inc()
}

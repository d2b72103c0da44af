package notifications

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for outbound notifications. A nil *Metrics records nothing.
type Metrics struct {
	sentTotal        *prometheus.CounterVec
	rateLimitedTotal *prometheus.CounterVec
}

// NewMetrics creates and registers notification metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		sentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "healthd",
			Subsystem: "notifications",
			Name:      "sent_total",
			Help:      "Notification delivery attempts by channel type and result",
		}, []string{"channel_type", "result"}),

		rateLimitedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "healthd",
			Subsystem: "notifications",
			Name:      "rate_limited_total",
			Help:      "Notifications dropped by the hourly rate limit",
		}, []string{"channel_type"}),
	}

	reg.MustRegister(m.sentTotal, m.rateLimitedTotal)
	return m
}

func (m *Metrics) sent(channelType string, success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "error"
	}
	m.sentTotal.WithLabelValues(channelType, result).Inc()
}

func (m *Metrics) rateLimited(channelType string) {
	if m == nil {
		return
	}
	m.rateLimitedTotal.WithLabelValues(channelType).Inc()
}

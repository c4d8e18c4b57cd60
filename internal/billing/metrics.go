package billing

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// billingMetrics manages Prometheus instrumentation for the billing core.
type billingMetrics struct {
	eventsTotal      *prometheus.CounterVec
	failuresTotal    *prometheus.CounterVec
	purchaseOutcomes *prometheus.CounterVec
}

var (
	metricsInstance *billingMetrics
	metricsOnce     sync.Once
)

// getMetrics returns the singleton billing metrics instance.
func getMetrics() *billingMetrics {
	metricsOnce.Do(func() {
		metricsInstance = newBillingMetrics()
	})
	return metricsInstance
}

func newBillingMetrics() *billingMetrics {
	m := &billingMetrics{
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hustl",
				Subsystem: "billing",
				Name:      "events_total",
				Help:      "Total billing events by component, action and outcome",
			},
			[]string{"component", "action", "outcome"},
		),
		failuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hustl",
				Subsystem: "billing",
				Name:      "failures_total",
				Help:      "Total classified billing failures by kind",
			},
			[]string{"kind"},
		),
		purchaseOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hustl",
				Subsystem: "billing",
				Name:      "purchase_outcomes_total",
				Help:      "Total terminal purchase outcomes by status",
			},
			[]string{"status"},
		),
	}

	prometheus.MustRegister(
		m.eventsTotal,
		m.failuresTotal,
		m.purchaseOutcomes,
	)

	return m
}

func (m *billingMetrics) recordEvent(component, action, outcome string) {
	m.eventsTotal.WithLabelValues(component, action, outcome).Inc()
}

func (m *billingMetrics) recordFailure(kind string) {
	m.failuresTotal.WithLabelValues(kind).Inc()
}

func (m *billingMetrics) recordPurchaseOutcome(status string) {
	m.purchaseOutcomes.WithLabelValues(status).Inc()
}

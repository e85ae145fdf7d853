package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bilisub"

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// APIRequests counts platform calls by endpoint and outcome
	APIRequests *prometheus.CounterVec

	// GateWait observes how long callers waited for the gate
	GateWait prometheus.Histogram

	// Cycles counts poll cycles by outcome
	Cycles *prometheus.CounterVec

	// Notifications counts items handed to the notifier by feed
	Notifications *prometheus.CounterVec

	// Deliveries counts per-destination sends by outcome
	Deliveries *prometheus.CounterVec

	UnknownDynamics prometheus.Counter

	// ActivePollers is the number of running pollers
	ActivePollers prometheus.Gauge
}

// New registers the collectors with reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		APIRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of platform API requests",
			},
			[]string{"endpoint", "outcome"},
		),
		GateWait: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gate_wait_seconds",
				Help:      "Time spent waiting for the request gate",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
		),
		Cycles: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_total",
				Help:      "Total number of poll cycles",
			},
			[]string{"outcome"},
		),
		Notifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Total number of new items notified",
			},
			[]string{"feed"},
		),
		Deliveries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deliveries_total",
				Help:      "Total number of per-destination deliveries",
			},
			[]string{"outcome"},
		),
		UnknownDynamics: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unknown_dynamics_total",
				Help:      "Dynamics delivered with an unsupported card type",
			},
		),
		ActivePollers: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_pollers",
				Help:      "Number of running pollers",
			},
		),
	}
}

// RecordRequest records a platform API call
func (m *Metrics) RecordRequest(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.APIRequests.WithLabelValues(endpoint, outcome).Inc()
}

// RecordGateWait records a gate wait
func (m *Metrics) RecordGateWait(wait time.Duration) {
	if m == nil {
		return
	}
	m.GateWait.Observe(wait.Seconds())
}

// RecordCycle records a finished cycle
func (m *Metrics) RecordCycle(outcome string) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(outcome).Inc()
}

// RecordNotification records one notified item
func (m *Metrics) RecordNotification(feed string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(feed).Inc()
}

// RecordDelivery records a send to one destination
func (m *Metrics) RecordDelivery(outcome string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(outcome).Inc()
}

// RecordUnknownDynamic counts a dynamic with an unsupported card
func (m *Metrics) RecordUnknownDynamic() {
	if m == nil {
		return
	}
	m.UnknownDynamics.Inc()
}

// PollerStarted increments the active poller gauge
func (m *Metrics) PollerStarted() {
	if m == nil {
		return
	}
	m.ActivePollers.Inc()
}

// PollerStopped decrements the active poller gauge
func (m *Metrics) PollerStopped() {
	if m == nil {
		return
	}
	m.ActivePollers.Dec()
}

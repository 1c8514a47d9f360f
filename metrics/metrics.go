// Package metrics holds the Prometheus collectors of the coordinator. A nil *Metrics is valid and records
// nothing, which keeps tests and tools free of registry plumbing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	connections    prometheus.Gauge
	rooms          prometheus.Gauge
	deliveries     *prometheus.CounterVec
	durableRetries *prometheus.CounterVec
	durableFailed  *prometheus.CounterVec
	grading        *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lightspeed_contest",
			Name:      "connections",
			Help:      "Number of open websocket connections.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lightspeed_contest",
			Name:      "rooms",
			Help:      "Number of rooms held in memory.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lightspeed_contest",
			Name:      "broadcast_deliveries_total",
			Help:      "Broadcast deliveries by outcome (sent, dropped).",
		}, []string{"outcome"}),
		durableRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lightspeed_contest",
			Name:      "durable_retries_total",
			Help:      "Retried durable store writes by operation.",
		}, []string{"op"}),
		durableFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lightspeed_contest",
			Name:      "durable_failures_total",
			Help:      "Durable store writes given up after all attempts, by operation.",
		}, []string{"op"}),
		grading: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lightspeed_contest",
			Name:      "grading_duration_seconds",
			Help:      "Time to grade one submission, by result.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.connections, m.rooms, m.deliveries, m.durableRetries, m.durableFailed, m.grading)
	}
	return m
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) SetRooms(n int) {
	if m == nil {
		return
	}
	m.rooms.Set(float64(n))
}

func (m *Metrics) Delivered(n int) {
	if m == nil || n == 0 {
		return
	}
	m.deliveries.WithLabelValues("sent").Add(float64(n))
}

func (m *Metrics) Dropped(n int) {
	if m == nil || n == 0 {
		return
	}
	m.deliveries.WithLabelValues("dropped").Add(float64(n))
}

func (m *Metrics) DurableRetry(op string) {
	if m == nil {
		return
	}
	m.durableRetries.WithLabelValues(op).Inc()
}

func (m *Metrics) DurableFailed(op string) {
	if m == nil {
		return
	}
	m.durableFailed.WithLabelValues(op).Inc()
}

func (m *Metrics) Graded(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.grading.WithLabelValues(result).Observe(d.Seconds())
}

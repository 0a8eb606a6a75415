// Package observability exposes fixsim's Prometheus metrics, health check
// and debug snapshot surfaces. It is grounded in the teacher's
// internal/metrics package: the same pattern of a dedicated
// prometheus.Registry injected via fx, one struct per subsystem holding its
// gauges/counters/histograms, and an fx.Invoke that starts the HTTP
// exporter as a managed lifecycle hook. Narrowed from the teacher's
// WebSocket/PeerJS gateway metrics to the three things a matching engine
// exposes: throughput, session counts and book depth.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects the gauges and counters fixsim publishes.
type Metrics struct {
	ordersSubmitted   prometheus.Counter
	ordersRejected    prometheus.Counter
	executionsTotal   prometheus.Counter
	cancelsTotal      prometheus.Counter
	activeSessions    prometheus.Gauge
	bookDepth         *prometheus.GaugeVec
	matchLatency      prometheus.Histogram
	persistenceErrors prometheus.Counter
}

// NewMetrics registers fixsim's metric family against registry. registry is
// a prometheus.Registerer so callers can pass either *prometheus.Registry
// or the global DefaultRegisterer in tests.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		ordersSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fixsim_orders_submitted_total",
			Help: "Total number of NewOrderSingle messages accepted.",
		}),
		ordersRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fixsim_orders_rejected_total",
			Help: "Total number of NewOrderSingle messages rejected.",
		}),
		executionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fixsim_executions_total",
			Help: "Total number of fills produced by the matching engine.",
		}),
		cancelsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fixsim_cancels_total",
			Help: "Total number of orders canceled.",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fixsim_active_sessions",
			Help: "Number of currently connected FIX sessions.",
		}),
		bookDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fixsim_book_depth",
			Help: "Aggregated resting quantity per symbol and side.",
		}, []string{"symbol", "side"}),
		matchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fixsim_match_latency_seconds",
			Help:    "Time spent inside Engine.Submit, from accept to reply.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 12),
		}),
		persistenceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fixsim_persistence_errors_total",
			Help: "Total number of persistence calls that returned an error.",
		}),
	}

	registry.MustRegister(
		m.ordersSubmitted,
		m.ordersRejected,
		m.executionsTotal,
		m.cancelsTotal,
		m.activeSessions,
		m.bookDepth,
		m.matchLatency,
		m.persistenceErrors,
	)
	return m
}

func (m *Metrics) OrderSubmitted() { m.ordersSubmitted.Inc() }
func (m *Metrics) OrderRejected()  { m.ordersRejected.Inc() }
func (m *Metrics) ExecutionRecorded(n int) {
	m.executionsTotal.Add(float64(n))
}
func (m *Metrics) CancelRecorded()       { m.cancelsTotal.Inc() }
func (m *Metrics) PersistenceError()     { m.persistenceErrors.Inc() }
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}
func (m *Metrics) SetBookDepth(symbol, side string, qty int64) {
	m.bookDepth.WithLabelValues(symbol, side).Set(float64(qty))
}
func (m *Metrics) ObserveMatchLatency(d time.Duration) {
	m.matchLatency.Observe(d.Seconds())
}

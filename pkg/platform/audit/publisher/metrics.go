package publisher

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	audit "verifyflow/pkg/platform/audit"
)

// Metrics holds Prometheus metrics for audit publishing. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Persisted             *prometheus.CounterVec
	PersistDuration       prometheus.Histogram
	Sampled               prometheus.Counter
	Dropped               prometheus.Counter
	CircuitBreakerDropped prometheus.Counter
	PersistFailures       prometheus.Counter
	CircuitBreakerState   prometheus.Gauge
}

// NewMetrics registers audit metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Persisted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "verifyflow_audit_persisted_total",
			Help: "Audit events written to the sink, by category",
		}, []string{"category"}),
		PersistDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "verifyflow_audit_persist_duration_seconds",
			Help:    "Latency of audit sink writes",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		Sampled: f.NewCounter(prometheus.CounterOpts{
			Name: "verifyflow_audit_sampled_total",
			Help: "Operations events dropped by sampling",
		}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "verifyflow_audit_buffer_dropped_total",
			Help: "Events dropped because the async buffer was full",
		}),
		CircuitBreakerDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "verifyflow_audit_circuit_breaker_dropped_total",
			Help: "Events dropped while the sink circuit was open",
		}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "verifyflow_audit_persist_failures_total",
			Help: "Audit sink write failures",
		}),
		CircuitBreakerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "verifyflow_audit_circuit_breaker_state",
			Help: "Sink circuit breaker state (0=closed, 1=open)",
		}),
	}
}

func (m *Metrics) ObservePersist(category audit.EventCategory, d time.Duration) {
	if m != nil {
		m.Persisted.WithLabelValues(string(category)).Inc()
		m.PersistDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) IncSampled() {
	if m != nil {
		m.Sampled.Inc()
	}
}

func (m *Metrics) IncDropped() {
	if m != nil {
		m.Dropped.Inc()
	}
}

func (m *Metrics) IncCircuitBreakerDropped() {
	if m != nil {
		m.CircuitBreakerDropped.Inc()
	}
}

func (m *Metrics) IncPersistFailures() {
	if m != nil {
		m.PersistFailures.Inc()
	}
}

func (m *Metrics) SetCircuitBreakerState(open bool) {
	if m == nil {
		return
	}
	if open {
		m.CircuitBreakerState.Set(1)
	} else {
		m.CircuitBreakerState.Set(0)
	}
}

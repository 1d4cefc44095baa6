package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the capture flow. All methods are safe
// on a nil receiver so components can run without metrics wired.
type Metrics struct {
	// Negotiation attempts by tier and result ("ok", "failed")
	NegotiationAttempts *prometheus.CounterVec

	// Exhausted negotiations by classified reason
	AcquisitionFailures *prometheus.CounterVec

	// Local captures by artifact kind and result
	Captures *prometheus.CounterVec

	// Upload outcomes by endpoint and result ("ok", "failed", "stale")
	Submissions *prometheus.CounterVec

	// Upload latency by endpoint
	SubmissionLatency *prometheus.HistogramVec

	// Orchestrator transitions by target state
	Transitions *prometheus.CounterVec

	// Backend breaker state (0=closed, 1=open)
	BackendCircuitOpen prometheus.Gauge
}

// New creates a Metrics instance registered against reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		NegotiationAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "verifyflow_media_negotiation_attempts_total",
			Help: "Camera acquisition attempts by constraint tier and result",
		}, []string{"tier", "result"}),

		AcquisitionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "verifyflow_media_acquisition_failures_total",
			Help: "Camera acquisitions that exhausted every tier, by reason",
		}, []string{"reason"}),

		Captures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "verifyflow_captures_total",
			Help: "Local captures by artifact kind and result",
		}, []string{"kind", "result"}),

		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "verifyflow_submissions_total",
			Help: "Artifact uploads by endpoint and result",
		}, []string{"endpoint", "result"}),

		SubmissionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "verifyflow_submission_duration_seconds",
			Help:    "Duration of artifact uploads by endpoint",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"endpoint"}),

		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "verifyflow_orchestrator_transitions_total",
			Help: "Orchestrator state transitions by target state",
		}, []string{"to"}),

		BackendCircuitOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "verifyflow_backend_circuit_open",
			Help: "Current backend circuit breaker state (0=closed/healthy, 1=open/unhealthy)",
		}),
	}
}

// IncNegotiationAttempt records one tier attempt.
func (m *Metrics) IncNegotiationAttempt(tier string, ok bool) {
	if m != nil {
		m.NegotiationAttempts.WithLabelValues(tier, result(ok)).Inc()
	}
}

// IncAcquisitionFailure records a negotiation that exhausted every tier.
func (m *Metrics) IncAcquisitionFailure(reason string) {
	if m != nil {
		m.AcquisitionFailures.WithLabelValues(reason).Inc()
	}
}

// IncCapture records a local capture attempt.
func (m *Metrics) IncCapture(kind string, ok bool) {
	if m != nil {
		m.Captures.WithLabelValues(kind, result(ok)).Inc()
	}
}

// ObserveSubmission records an upload outcome and its latency.
func (m *Metrics) ObserveSubmission(endpoint, outcome string, d time.Duration) {
	if m != nil {
		m.Submissions.WithLabelValues(endpoint, outcome).Inc()
		m.SubmissionLatency.WithLabelValues(endpoint).Observe(d.Seconds())
	}
}

// IncTransition records an orchestrator state change.
func (m *Metrics) IncTransition(to string) {
	if m != nil {
		m.Transitions.WithLabelValues(to).Inc()
	}
}

// SetBackendCircuitOpen mirrors the backend breaker state.
func (m *Metrics) SetBackendCircuitOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BackendCircuitOpen.Set(1)
	} else {
		m.BackendCircuitOpen.Set(0)
	}
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

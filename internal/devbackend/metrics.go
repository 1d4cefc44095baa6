package devbackend

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers the development backend. Methods are nil-safe.
type Metrics struct {
	ChatTurns       *prometheus.CounterVec
	UploadsReceived *prometheus.CounterVec
	UploadBytes     *prometheus.CounterVec
	LinksIssued     prometheus.Counter
	LinkChecks      *prometheus.CounterVec
	Sessions        prometheus.GaugeFunc
}

// NewMetrics registers the backend metrics against reg. sessions reports the
// number of live session records.
func NewMetrics(reg prometheus.Registerer, sessions func() float64) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ChatTurns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "verifyflow_devbackend_chat_turns_total",
			Help: "Chat turns by step and whether the answer was accepted",
		}, []string{"step", "result"}),
		UploadsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "verifyflow_devbackend_uploads_total",
			Help: "Accepted uploads by endpoint",
		}, []string{"endpoint"}),
		UploadBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "verifyflow_devbackend_upload_bytes_total",
			Help: "Uploaded artifact bytes by endpoint",
		}, []string{"endpoint"}),
		LinksIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "verifyflow_devbackend_links_issued_total",
			Help: "Verification links issued",
		}),
		LinkChecks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "verifyflow_devbackend_link_checks_total",
			Help: "Verification link checks by result",
		}, []string{"result"}),
		Sessions: f.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "verifyflow_devbackend_sessions",
			Help: "Sessions known to the development backend",
		}, sessions),
	}
}

func (m *Metrics) IncChatTurn(step string, accepted bool) {
	if m == nil {
		return
	}
	result := "accepted"
	if !accepted {
		result = "retry"
	}
	m.ChatTurns.WithLabelValues(step, result).Inc()
}

func (m *Metrics) ObserveUpload(endpoint string, bytes int64) {
	if m == nil {
		return
	}
	m.UploadsReceived.WithLabelValues(endpoint).Inc()
	m.UploadBytes.WithLabelValues(endpoint).Add(float64(bytes))
}

func (m *Metrics) IncLinkIssued() {
	if m == nil {
		return
	}
	m.LinksIssued.Inc()
}

func (m *Metrics) IncLinkCheck(valid bool) {
	if m == nil {
		return
	}
	result := "valid"
	if !valid {
		result = "rejected"
	}
	m.LinkChecks.WithLabelValues(result).Inc()
}

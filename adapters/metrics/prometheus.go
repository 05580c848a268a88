package metrics

import (
	"github.com/layer-3/pairgate/core"
	"github.com/layer-3/pairgate/ports"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pairgate"

// Prometheus implements ports.Metrics with Prometheus collectors
type Prometheus struct {
	activeSessions prometheus.Gauge
	responses      *prometheus.CounterVec
	disconnects    *prometheus.CounterVec
	persisted      *prometheus.CounterVec
}

// NewPrometheus creates the collectors and registers them with reg
func NewPrometheus(reg prometheus.Registerer) ports.Metrics {
	m := &Prometheus{
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of connection sessions supervised by this process.",
		}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_responses_total",
			Help:      "Connect requests by the kind of response they resolved with.",
		}, []string{"kind"}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Protocol disconnects by reason and reconnection decision.",
		}, []string{"reason", "decision"}),
		persisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_writes_total",
			Help:      "Credential rotation writes by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(m.activeSessions, m.responses, m.disconnects, m.persisted)
	return m
}

func (m *Prometheus) SessionStarted() { m.activeSessions.Inc() }
func (m *Prometheus) SessionStopped() { m.activeSessions.Dec() }

func (m *Prometheus) ConnectResolved(kind core.ResultKind) {
	m.responses.WithLabelValues(string(kind)).Inc()
}

func (m *Prometheus) Disconnected(reason core.DisconnectReason, decision core.Decision) {
	m.disconnects.WithLabelValues(reason.String(), string(decision)).Inc()
}

func (m *Prometheus) CredentialPersisted(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.persisted.WithLabelValues(result).Inc()
}

package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	handshakes     *prometheus.CounterVec
	activeConns    prometheus.Gauge
	presenceEvents *prometheus.CounterVec
	relayed        prometheus.Counter
	inboundErrors  *prometheus.CounterVec
	repairs        prometheus.Counter
}

func newMetrics(reg prometheus.Registerer, namespace string) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		handshakes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "handshakes_total",
			Help:      "Handshakes by outcome",
		}, []string{"result"}),

		activeConns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "connections_active",
			Help:      "Connections currently bound on this instance",
		}),

		presenceEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "presence_events_total",
			Help:      "Presence transitions announced by this instance",
		}, []string{"event"}),

		relayed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "private_messages_total",
			Help:      "Private messages relayed",
		}),

		inboundErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "inbound_errors_total",
			Help:      "Rejected inbound frames by reason",
		}, []string{"reason"}),

		repairs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "presence_repairs_total",
			Help:      "Sessions re-marked online after a concurrent reconnect",
		}),
	}
}

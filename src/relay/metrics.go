package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "rendezvous"

// Metrics groups the Prometheus collectors of the relay.
type Metrics struct {
	Connections      prometheus.Gauge
	Messages         *prometheus.CounterVec
	Dropped          *prometheus.CounterVec
	QueueOverflows   prometheus.Counter
	Fallbacks        prometheus.Counter
	Elections        prometheus.Counter
	RouterDepartures prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg, unless reg
// is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections",
			Help:      "Number of open client connections.",
		}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_total",
			Help:      "Decoded client messages, by subject.",
		}, []string{"subject"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_dropped_total",
			Help:      "Client messages dropped, by reason.",
		}, []string{"reason"}),
		QueueOverflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "queue_overflows_total",
			Help:      "Bus messages dropped because a connection queue was full.",
		}),
		Fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "negotiation_fallbacks_total",
			Help:      "Negotiations redirected to the router because the receiver was not listening.",
		}),
		Elections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "router_elections_total",
			Help:      "Peers that became router.",
		}),
		RouterDepartures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "router_departures_total",
			Help:      "Routers whose connection closed.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Connections,
			m.Messages,
			m.Dropped,
			m.QueueOverflows,
			m.Fallbacks,
			m.Elections,
			m.RouterDepartures,
		)
	}

	return m
}

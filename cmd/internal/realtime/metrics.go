package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's prometheus collectors.
type Metrics struct {
	Connections      prometheus.Gauge
	OnlineIdentities prometheus.Gauge
	Rooms            prometheus.Gauge
	ActiveSessions   prometheus.Gauge

	MessagesRouted *prometheus.CounterVec
	Deliveries     prometheus.Counter
	Drops          prometheus.Counter
	TypingEvents   *prometheus.CounterVec
	AuthFailures   *prometheus.CounterVec
	PresenceEvents *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
// A nil reg yields unregistered collectors, which is what tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat", Subsystem: "realtime", Name: "connections",
			Help: "Registered websocket connections.",
		}),
		OnlineIdentities: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat", Subsystem: "realtime", Name: "online_identities",
			Help: "Identities with at least one registered connection.",
		}),
		Rooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat", Subsystem: "realtime", Name: "rooms",
			Help: "Conversation rooms with at least one member.",
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat", Subsystem: "realtime", Name: "active_sessions",
			Help: "Connections that joined at least one conversation.",
		}),
		MessagesRouted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat", Subsystem: "realtime", Name: "messages_routed_total",
			Help: "Send attempts by result.",
		}, []string{"result"}),
		Deliveries: f.NewCounter(prometheus.CounterOpts{
			Namespace: "chat", Subsystem: "realtime", Name: "fanout_deliveries_total",
			Help: "Events enqueued to connections.",
		}),
		Drops: f.NewCounter(prometheus.CounterOpts{
			Namespace: "chat", Subsystem: "realtime", Name: "fanout_drops_total",
			Help: "Events dropped because a connection queue was full or closed.",
		}),
		TypingEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat", Subsystem: "realtime", Name: "typing_events_total",
			Help: "Typing transitions by kind.",
		}, []string{"kind"}),
		AuthFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat", Subsystem: "realtime", Name: "auth_failures_total",
			Help: "Rejected credentials by stage.",
		}, []string{"stage"}),
		PresenceEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat", Subsystem: "realtime", Name: "presence_events_total",
			Help: "Presence transitions by status.",
		}, []string{"status"}),
	}
}

// deliver enqueues ev to each client and records the outcome.
func (m *Metrics) deliver(ev Event, targets []*Client) (delivered int) {
	for _, c := range targets {
		if c.Enqueue(ev) {
			delivered++
		}
	}
	m.Deliveries.Add(float64(delivered))
	if dropped := len(targets) - delivered; dropped > 0 {
		m.Drops.Add(float64(dropped))
	}
	return delivered
}

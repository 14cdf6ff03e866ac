// Package metrics provides Prometheus collectors for the signaling server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricConnections     = "meet_connections"
	MetricSessions        = "meet_sessions"
	MetricRooms           = "meet_rooms"
	MetricAuthentications = "meet_authentications_total"
	MetricJoins           = "meet_room_joins_total"
	MetricLeaves          = "meet_room_leaves_total"
	MetricRelayed         = "meet_signals_relayed_total"
	MetricDropped         = "meet_signals_dropped_total"
	MetricSlowConsumers   = "meet_slow_consumers_total"
)

// Metrics contains Prometheus collectors for presence, rooms and signaling.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	connections     prometheus.Gauge
	sessions        prometheus.Gauge
	rooms           prometheus.Gauge
	authentications *prometheus.CounterVec
	joins           prometheus.Counter
	leaves          prometheus.Counter
	relayed         *prometheus.CounterVec
	dropped         *prometheus.CounterVec
	slowConsumers   prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricConnections,
			Help: "Open signaling connections",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricSessions,
			Help: "Authenticated signaling sessions",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricRooms,
			Help: "Live meeting rooms",
		}),
		authentications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricAuthentications,
			Help: "Authentication attempts by result",
		}, []string{"result"}),
		joins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricJoins,
			Help: "Successful room joins",
		}),
		leaves: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricLeaves,
			Help: "Room departures, explicit or on disconnect",
		}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRelayed,
			Help: "Signaling messages forwarded by kind",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricDropped,
			Help: "Signaling messages dropped by kind",
		}, []string{"kind"}),
		slowConsumers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSlowConsumers,
			Help: "Sends refused because a connection buffer was full",
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.connections,
		m.sessions,
		m.rooms,
		m.authentications,
		m.joins,
		m.leaves,
		m.relayed,
		m.dropped,
		m.slowConsumers,
	}
}

func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

func (m *Metrics) SetRooms(n int) {
	if m == nil {
		return
	}
	m.rooms.Set(float64(n))
}

// IncAuthentications counts an attempt; result is "ok" or a failure reason.
func (m *Metrics) IncAuthentications(result string) {
	if m == nil {
		return
	}
	m.authentications.WithLabelValues(result).Inc()
}

func (m *Metrics) IncJoins() {
	if m == nil {
		return
	}
	m.joins.Inc()
}

func (m *Metrics) IncLeaves() {
	if m == nil {
		return
	}
	m.leaves.Inc()
}

func (m *Metrics) IncRelayed(kind string) {
	if m == nil {
		return
	}
	m.relayed.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncDropped(kind string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncSlowConsumers() {
	if m == nil {
		return
	}
	m.slowConsumers.Inc()
}

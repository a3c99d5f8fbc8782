package relay

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the server's observability state, injected at construction
// rather than living in package globals.
type Metrics struct {
	ConnectedClients prometheus.Gauge
	LinesBroadcast   prometheus.Counter
	BytesBroadcast   prometheus.Counter
	LinesDropped     prometheus.Counter
}

// NewMetrics builds the metric set and registers it on reg. A nil reg
// leaves the metrics unregistered, which is handy in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_connected_clients",
			Help: "Number of currently connected clients",
		}),
		LinesBroadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_lines_broadcast_total",
			Help: "Complete lines fanned out to peers",
		}),
		BytesBroadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_bytes_broadcast_total",
			Help: "Bytes accepted by peer transports during broadcast",
		}),
		LinesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_lines_dropped_total",
			Help: "Lines dropped because the buffer filled without a newline",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ConnectedClients, m.LinesBroadcast, m.BytesBroadcast, m.LinesDropped)
	}
	return m
}

package ws

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	open     prometheus.Gauge
	commands prometheus.Counter
	slow     prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		open: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "internchat", Subsystem: "ws", Name: "connections",
			Help: "Open websocket connections.",
		}),
		commands: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "internchat", Subsystem: "ws", Name: "commands_total",
			Help: "Frames received from clients.",
		}),
		slow: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "internchat", Subsystem: "ws", Name: "slow_clients_total",
			Help: "Connections closed because the client could not keep up.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.open, m.commands, m.slow)
	}
	return m
}

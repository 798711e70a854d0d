package chat

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	live      prometheus.Gauge
	published prometheus.Counter
	delivered prometheus.Counter
	dropped   prometheus.Counter
	replayed  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		live: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "internchat", Subsystem: "hub", Name: "subscriptions",
			Help: "Live subscriptions.",
		}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "internchat", Subsystem: "hub", Name: "events_published_total",
			Help: "Events handed to the hub by the store.",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "internchat", Subsystem: "hub", Name: "events_delivered_total",
			Help: "Live events queued to a subscription.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "internchat", Subsystem: "hub", Name: "subscriptions_dropped_total",
			Help: "Subscriptions dropped for falling behind.",
		}),
		replayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "internchat", Subsystem: "hub", Name: "events_replayed_total",
			Help: "Events replayed from the log on subscribe.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.live, m.published, m.delivered, m.dropped, m.replayed)
	}
	return m
}

func (m *Metrics) setLive(n int) { m.live.Set(float64(n)) }

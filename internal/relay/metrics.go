package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the relay's Prometheus collectors
type Metrics struct {
	EventsPublished *prometheus.CounterVec
	PublishErrors   prometheus.Counter
	LastPublishedID prometheus.Gauge
}

// NewMetrics creates and registers the relay collectors
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_events_published_total",
			Help: "Number of outbox events published to the broker",
		}, []string{"event_type"}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_publish_errors_total",
			Help: "Number of failed publish attempts",
		}),
		LastPublishedID: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_last_published_id",
			Help: "Outbox id of the most recently published event",
		}),
	}
	reg.MustRegister(m.EventsPublished, m.PublishErrors, m.LastPublishedID)
	return m
}

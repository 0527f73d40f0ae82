package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/docrelay/pkg/broadcast"
)

// BroadcastMetrics implements broadcast.Observer on Prometheus collectors.
type BroadcastMetrics struct {
	Subscribers        prometheus.Gauge
	SubscribersTotal   prometheus.Counter
	SubscribersRemoved *prometheus.CounterVec
	MessagesPublished  prometheus.Counter
	Deliveries         prometheus.Counter
	MessagesDropped    *prometheus.CounterVec
	DeliveryFailures   prometheus.Counter
}

var _ broadcast.Observer = (*BroadcastMetrics)(nil)

// NewBroadcastMetrics creates and registers broadcast metrics on reg.
func NewBroadcastMetrics(reg prometheus.Registerer) *BroadcastMetrics {
	m := &BroadcastMetrics{
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "subscribers",
			Help:      "Number of registered subscribers.",
		}),
		SubscribersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "subscribers_registered_total",
			Help:      "Total number of subscribers registered.",
		}),
		SubscribersRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "subscribers_removed_total",
			Help:      "Total number of subscribers removed, by the state they left.",
		}, []string{"state"}),
		MessagesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "messages_published_total",
			Help:      "Total number of messages published.",
		}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "messages_enqueued_total",
			Help:      "Total number of messages accepted into subscriber queues.",
		}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "messages_dropped_total",
			Help:      "Total number of messages lost to full subscriber queues, by policy.",
		}, []string{"policy"}),
		DeliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "delivery_failures_total",
			Help:      "Total number of delivery failures that removed a subscriber.",
		}),
	}

	reg.MustRegister(
		m.Subscribers,
		m.SubscribersTotal,
		m.SubscribersRemoved,
		m.MessagesPublished,
		m.Deliveries,
		m.MessagesDropped,
		m.DeliveryFailures,
	)
	return m
}

func (m *BroadcastMetrics) SubscriberAdded(broadcast.SubscriberID) {
	m.Subscribers.Inc()
	m.SubscribersTotal.Inc()
}

func (m *BroadcastMetrics) SubscriberRemoved(_ broadcast.SubscriberID, from broadcast.State) {
	m.Subscribers.Dec()
	m.SubscribersRemoved.WithLabelValues(from.String()).Inc()
}

func (m *BroadcastMetrics) MessagePublished(_ uint64, recipients int) {
	m.MessagesPublished.Inc()
	m.Deliveries.Add(float64(recipients))
}

func (m *BroadcastMetrics) MessageDropped(_ broadcast.SubscriberID, policy broadcast.Policy) {
	m.MessagesDropped.WithLabelValues(policy.String()).Inc()
}

func (m *BroadcastMetrics) DeliveryFailed(broadcast.SubscriberID, error) {
	m.DeliveryFailures.Inc()
}

package bus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for a bus instance.
type Metrics struct {
	SubscribersTotal prometheus.Gauge

	MessagesPublishedTotal *prometheus.CounterVec
	MessagesDeliveredTotal *prometheus.CounterVec
	MessagesDroppedTotal   *prometheus.CounterVec
	SubscriptionsTotal     prometheus.Counter
	UnsubscriptionsTotal   prometheus.Counter

	BroadcastDuration prometheus.Histogram
}

// NewMetrics creates and registers the bus metrics.
func NewMetrics(namespace, subsystem string) *Metrics {
	if namespace == "" {
		namespace = "lattica"
	}
	if subsystem == "" {
		subsystem = "bus"
	}

	return &Metrics{
		SubscribersTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "subscribers_total",
			Help:      "Current number of active subscribers",
		}),

		MessagesPublishedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_published_total",
			Help:      "Total number of messages published",
		}, []string{"message_type"}),
		MessagesDeliveredTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_delivered_total",
			Help:      "Total number of messages delivered to subscribers",
		}, []string{"message_type"}),
		MessagesDroppedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_dropped_total",
			Help:      "Total number of messages dropped due to full channels",
		}, []string{"message_type"}),
		SubscriptionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "subscriptions_total",
			Help:      "Total number of subscription requests",
		}),
		UnsubscriptionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "unsubscriptions_total",
			Help:      "Total number of unsubscription requests",
		}),

		BroadcastDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "broadcast_duration_seconds",
			Help:      "Message broadcast duration in seconds",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
	}
}

// RecordPublished increments the published messages counter.
func (m *Metrics) RecordPublished(msgType MessageType) {
	m.MessagesPublishedTotal.WithLabelValues(string(msgType)).Inc()
}

// RecordDelivered increments the delivered messages counter.
func (m *Metrics) RecordDelivered(msgType MessageType) {
	m.MessagesDeliveredTotal.WithLabelValues(string(msgType)).Inc()
}

// RecordDropped increments the dropped messages counter.
func (m *Metrics) RecordDropped(msgType MessageType) {
	m.MessagesDroppedTotal.WithLabelValues(string(msgType)).Inc()
}

// RecordSubscription increments the subscription counter.
func (m *Metrics) RecordSubscription() {
	m.SubscriptionsTotal.Inc()
}

// RecordUnsubscription increments the unsubscription counter.
func (m *Metrics) RecordUnsubscription() {
	m.UnsubscriptionsTotal.Inc()
}

// UpdateSubscriberCount updates the subscriber gauge.
func (m *Metrics) UpdateSubscriberCount(count int) {
	m.SubscribersTotal.Set(float64(count))
}

// ObserveBroadcast records the time taken to broadcast one message.
func (m *Metrics) ObserveBroadcast(duration time.Duration) {
	m.BroadcastDuration.Observe(duration.Seconds())
}

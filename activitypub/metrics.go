package activitypub

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector counts engine activity for Prometheus. All methods are safe
// on a nil receiver, so the engine never branches on whether metrics
// were configured.
type Collector struct {
	inboxActivities  *prometheus.CounterVec
	outboxActivities *prometheus.CounterVec
	deliverySuccess  prometheus.Counter
	deliveryFail     prometheus.Counter
}

// NewCollector registers the engine counters on the given registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		inboxActivities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solipub_inbox_activities_total",
			Help: "Inbound activities by type.",
		}, []string{"type"}),
		outboxActivities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solipub_outbox_activities_total",
			Help: "Outbound activities by type.",
		}, []string{"type"}),
		deliverySuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solipub_delivery_success_total",
			Help: "Successful activity deliveries to remote inboxes.",
		}),
		deliveryFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solipub_delivery_fail_total",
			Help: "Failed activity deliveries to remote inboxes.",
		}),
	}

	reg.MustRegister(
		c.inboxActivities,
		c.outboxActivities,
		c.deliverySuccess,
		c.deliveryFail,
	)

	return c
}

// InboxActivity records one received activity.
func (c *Collector) InboxActivity(activityType string) {
	if c == nil {
		return
	}
	c.inboxActivities.WithLabelValues(activityType).Inc()
}

// OutboxActivity records one activity posted by the owner.
func (c *Collector) OutboxActivity(activityType string) {
	if c == nil {
		return
	}
	c.outboxActivities.WithLabelValues(activityType).Inc()
}

// DeliverySuccess records one delivered activity.
func (c *Collector) DeliverySuccess() {
	if c == nil {
		return
	}
	c.deliverySuccess.Inc()
}

// DeliveryFailure records one failed delivery attempt.
func (c *Collector) DeliveryFailure() {
	if c == nil {
		return
	}
	c.deliveryFail.Inc()
}

// MetricsHandler returns the Prometheus scrape handler.
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

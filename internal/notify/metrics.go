package notify

import "github.com/prometheus/client_golang/prometheus"

var (
	fanoutRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_fanout_requests_total",
			Help: "Total fan-out calls by audience shape.",
		},
		[]string{"audience"},
	)

	notificationsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_notifications_created_total",
			Help: "Total in-app notification records created.",
		},
	)

	pushDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_push_deliveries_total",
			Help: "Push delivery attempts by result.",
		},
		[]string{"result"},
	)

	subscriptionsPrunedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_subscriptions_pruned_total",
			Help: "Subscriptions removed after the provider reported them gone.",
		},
	)
)

func MustRegisterMetrics() {
	prometheus.MustRegister(
		fanoutRequestsTotal,
		notificationsCreatedTotal,
		pushDeliveriesTotal,
		subscriptionsPrunedTotal,
	)
}

package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	EventsConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpnotify_change_events_total",
			Help: "Change events consumed from the change topic",
		},
		[]string{"type"},
	)

	NotificationsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpnotify_notifications_created_total",
			Help: "Notifications created for matched subscriptions",
		},
		[]string{"channel_type"},
	)

	DeliveryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpnotify_delivery_attempts_total",
			Help: "Delivery attempts by channel type and outcome",
		},
		[]string{"channel_type", "outcome"},
	)

	DeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mcpnotify_delivery_duration_seconds",
			Help:    "Duration of individual delivery attempts",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel_type"},
	)

	NotificationsTerminal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpnotify_notifications_terminal_total",
			Help: "Notifications reaching a terminal state",
		},
		[]string{"status"},
	)
)

func Init() {
	prometheus.MustRegister(
		EventsConsumed,
		NotificationsCreated,
		DeliveryAttempts,
		DeliveryDuration,
		NotificationsTerminal,
	)
}

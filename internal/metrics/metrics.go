package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CheckoutEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainpaye_checkout_events_total",
			Help: "Checkout instrumentation events by name",
		},
		[]string{"event"},
	)

	CheckoutErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainpaye_checkout_errors_total",
			Help: "Checkout errors by kind",
		},
		[]string{"kind"},
	)

	StepTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainpaye_checkout_step_transitions_total",
			Help: "State machine transitions",
		},
		[]string{"from", "to"},
	)

	ActivePollers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainpaye_active_pollers",
			Help: "Checkouts currently polling transaction status",
		},
	)

	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainpaye_backend_request_duration_seconds",
			Help:    "Latency of backend API calls",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"operation", "status"},
	)

	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainpaye_outbox_published_total",
			Help: "Outbox events relayed to Kafka",
		},
		[]string{"topic", "status"},
	)

	MerchantNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainpaye_merchant_notifications_total",
			Help: "Success URL notifications by outcome",
		},
		[]string{"status"},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

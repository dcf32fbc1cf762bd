package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		activationsTotal,
		duplicateActiveAlerts,
		fanoutFailures,
	)
}

var (
	activationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_activations_total",
			Help: "Subscription activation attempts by outcome (activated/idempotent/cancelled/unmatched).",
		},
		[]string{"outcome"},
	)

	duplicateActiveAlerts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duplicate_active_subscription_alerts_total",
			Help: "Businesses observed with more than one concurrently active subscription.",
		},
	)

	fanoutFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activation_fanout_failures_total",
			Help: "Best-effort notification deliveries that failed, by channel.",
		},
		[]string{"channel"},
	)
)

func IncActivation(outcome string) {
	activationsTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncDuplicateActiveAlert() {
	duplicateActiveAlerts.Inc()
}

func IncFanoutFailure(channel string) {
	fanoutFailures.WithLabelValues(norm(channel)).Inc()
}

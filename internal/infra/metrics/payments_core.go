package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		stkPushTotal,
		gatewayQueryTotal,
		callbackTotal,
	)
}

var (
	stkPushTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stk_push_total",
			Help: "STK push attempts by ledger status (initiated/success/failed).",
		},
		[]string{"status"},
	)

	gatewayQueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_status_query_total",
			Help: "Outbound status queries by outcome (success/failed/pending).",
		},
		[]string{"outcome"},
	)

	callbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_callback_total",
			Help: "Webhook callbacks received, by parse/handle outcome.",
		},
		[]string{"outcome"},
	)
)

func IncStkPush(status string) {
	stkPushTotal.WithLabelValues(norm(status)).Inc()
}

func IncGatewayQuery(outcome string) {
	gatewayQueryTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncCallback(outcome string) {
	callbackTotal.WithLabelValues(norm(outcome)).Inc()
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BroadcastRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_runs_total",
			Help: "Total number of completed daily broadcast runs",
		},
	)

	BroadcastOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_subscribers_total",
			Help: "Per-subscriber broadcast outcomes",
		},
		[]string{"outcome"},
	)

	ReconcileResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_reconcile_total",
			Help: "Payment reconciliation results",
		},
		[]string{"result"},
	)

	WebhooksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhooks_total",
			Help: "Payment webhook notifications by event",
		},
		[]string{"event"},
	)
)

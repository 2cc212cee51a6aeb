// Package metrics exposes Prometheus collectors for the subscription and
// payment flows.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nestgold"

var (
	// SubscribeTotal counts signup attempts by payment mode and outcome.
	SubscribeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "subscriptions",
		Name:      "subscribe_total",
		Help:      "Subscribe requests by payment mode and outcome.",
	}, []string{"mode", "outcome"})

	// PaymentResultsTotal counts reconciled payment results.
	PaymentResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payments",
		Name:      "results_total",
		Help:      "Payment results by source and resulting payment status.",
	}, []string{"source", "status"})

	// DuplicatePaymentResultsTotal counts results that arrived for an already
	// completed payment and were therefore not applied.
	DuplicatePaymentResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payments",
		Name:      "duplicate_results_total",
		Help:      "Successful results ignored because the payment was already completed.",
	}, []string{"source"})

	// TraysCreditedTotal sums trays credited by successful payments.
	TraysCreditedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "trays",
		Name:      "credited_total",
		Help:      "Trays credited to subscriptions.",
	})

	// DeliveriesTotal counts recorded deliveries by status.
	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "deliveries",
		Name:      "recorded_total",
		Help:      "Delivery events recorded by status.",
	}, []string{"status"})

	// ConflictRetriesTotal counts transactions retried after a unique violation.
	ConflictRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "db",
		Name:      "conflict_retries_total",
		Help:      "Transactions retried after a unique constraint violation.",
	}, []string{"operation"})

	// NotificationsTotal counts outbound notifications by kind and outcome.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "sent_total",
		Help:      "Outbound notifications by kind and outcome.",
	}, []string{"kind", "outcome"})

	// JobsProcessedTotal counts background queue jobs by type and outcome.
	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobqueue",
		Name:      "processed_total",
		Help:      "Background jobs processed by type and outcome.",
	}, []string{"type", "outcome"})

	// InitiationDuration tracks payment push latency.
	InitiationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "payments",
		Name:      "initiation_duration_seconds",
		Help:      "Duration of outbound payment initiation calls.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Outcome labels shared by the counters above.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// Outcome maps an error onto an outcome label.
func Outcome(err error) string {
	if err != nil {
		return OutcomeFailed
	}
	return OutcomeOK
}

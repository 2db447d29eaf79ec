package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "market_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	SubOrderTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_suborder_transitions_total",
			Help: "Committed sub-order status transitions",
		},
		[]string{"from", "to"},
	)

	LedgerEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_ledger_entries_total",
			Help: "Ledger entries written, by reason code",
		},
		[]string{"reason"},
	)

	BidOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_bid_outcomes_total",
			Help: "Bid placement and acceptance outcomes",
		},
		[]string{"op", "outcome"},
	)

	EscrowDeals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_escrow_deals_total",
			Help: "Escrow deal status changes",
		},
		[]string{"status"},
	)

	Settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_settlements_total",
			Help: "Settlement request lifecycle events",
		},
		[]string{"status"},
	)

	StorageRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "market_storage_retries_total",
			Help: "Transactions retried after a transient storage failure",
		},
	)

	WorkerEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_worker_events_total",
			Help: "Events handled by the background worker",
		},
		[]string{"type", "result"},
	)
)

// Register registers all Prometheus metrics with the default registry.
func Register() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		SubOrderTransitions,
		LedgerEntries,
		BidOutcomes,
		EscrowDeals,
		Settlements,
		StorageRetries,
		WorkerEvents,
	)
}

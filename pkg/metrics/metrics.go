package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Sync cycle metrics
	SyncCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tally_sync_cycles_total",
			Help: "Total number of reconciliation cycles run",
		},
	)

	SyncFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tally_sync_failures_total",
			Help: "Total number of reconciliation cycles that failed",
		},
	)

	SyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tally_sync_duration_seconds",
			Help:    "Reconciliation cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Ledger metrics
	TicketsAllocatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tally_tickets_allocated_total",
			Help: "Total number of tickets allocated",
		},
	)

	TicketsInvalidatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tally_tickets_invalidated_total",
			Help: "Total number of tickets invalidated",
		},
	)

	UsersStrippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tally_users_stripped_total",
			Help: "Total number of users stripped of all tickets after losing eligibility",
		},
	)

	InvalidTargetsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tally_invalid_targets_total",
			Help: "Total number of negative target entry counts clamped to zero",
		},
	)

	ValidTickets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tally_valid_tickets",
			Help: "Current number of valid tickets across all users",
		},
	)

	TicketHolders = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tally_ticket_holders",
			Help: "Current number of users holding at least one valid ticket",
		},
	)

	// Upstream metrics
	EntriesBySource = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tally_entries_by_source",
			Help: "Entries contributed by each upstream source in the last cycle",
		},
		[]string{"source"},
	)

	UpstreamFetchFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tally_upstream_fetch_failures_total",
			Help: "Total number of failed upstream fetches by source",
		},
		[]string{"source"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tally_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tally_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(SyncCyclesTotal)
	prometheus.MustRegister(SyncFailuresTotal)
	prometheus.MustRegister(SyncDuration)
	prometheus.MustRegister(TicketsAllocatedTotal)
	prometheus.MustRegister(TicketsInvalidatedTotal)
	prometheus.MustRegister(UsersStrippedTotal)
	prometheus.MustRegister(InvalidTargetsTotal)
	prometheus.MustRegister(ValidTickets)
	prometheus.MustRegister(TicketHolders)
	prometheus.MustRegister(EntriesBySource)
	prometheus.MustRegister(UpstreamFetchFailuresTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

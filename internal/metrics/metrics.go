package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "courtbook"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint and status code.",
		},
		[]string{"endpoint", "code"},
	)

	bookingsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_created_total",
			Help:      "Bookings created by initial status.",
		},
		[]string{"status"},
	)

	bookingConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_conflicts_total",
			Help:      "Booking attempts rejected because the slot was taken.",
		},
	)

	bookingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transitions_total",
			Help:      "Booking status transitions by target status.",
		},
		[]string{"status"},
	)

	expirations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_expirations_total",
			Help:      "Hold expiration attempts by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	walletTransactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_transactions_total",
			Help:      "Wallet ledger entries by type.",
		},
		[]string{"type"},
	)

	refundedAmount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refunded_amount_total",
			Help:      "Sum of refunded money in minor units.",
		},
	)

	jobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Delayed jobs processed by type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	sweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Scheduled sweep runs by job name and result.",
		},
		[]string{"job", "result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			bookingsCreated,
			bookingConflicts,
			bookingTransitions,
			expirations,
			walletTransactions,
			refundedAmount,
			jobsProcessed,
			sweepRuns,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string, code int) {
	httpRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
}

func IncBookingCreated(status string) {
	bookingsCreated.WithLabelValues(status).Inc()
}

func IncConflict() {
	bookingConflicts.Inc()
}

func IncTransition(status string) {
	bookingTransitions.WithLabelValues(status).Inc()
}

// IncExpiration records an expiry attempt; outcome is "expired" or "skipped".
func IncExpiration(source, outcome string) {
	expirations.WithLabelValues(source, outcome).Inc()
}

func IncWalletTransaction(txType string) {
	walletTransactions.WithLabelValues(txType).Inc()
}

func AddRefund(amount int64) {
	if amount > 0 {
		refundedAmount.Add(float64(amount))
	}
}

func IncJob(jobType, outcome string) {
	jobsProcessed.WithLabelValues(jobType, outcome).Inc()
}

func IncSweep(job string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	sweepRuns.WithLabelValues(job, result).Inc()
}

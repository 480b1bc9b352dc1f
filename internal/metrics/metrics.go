package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LedgerEntries counts appended credit transactions by type and outcome.
	LedgerEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_entries_total",
			Help: "Credit ledger append attempts by transaction type and result",
		},
		[]string{"type", "result"}, // applied, replayed, insufficient, error
	)

	// LeadUnlocks counts unlock attempts by result.
	LeadUnlocks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lead_unlocks_total",
			Help: "Lead unlock attempts by result",
		},
		[]string{"result"}, // unlocked, already_unlocked, insufficient, error
	)

	// PaymentReconciliations counts verify/webhook apply calls.
	PaymentReconciliations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_reconciliations_total",
			Help: "Payment session reconciliation attempts by purpose and result",
		},
		[]string{"purpose", "result"},
	)

	// BonusesExpired counts bonus_expiration entries written by the sweep.
	BonusesExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_bonuses_expired_total",
		Help: "Bonus lots closed by the expiry sweep",
	})

	// EmailsSent counts outbound email attempts by backend and result.
	EmailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emails_sent_total",
			Help: "Outbound email deliveries by backend and result",
		},
		[]string{"backend", "result"},
	)

	// JobRuns counts scheduled job executions.
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_job_runs_total",
			Help: "Scheduled job runs by job name and result",
		},
		[]string{"job", "result"}, // ok, error
	)

	// HTTPRequestDuration tracks handler latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "Duration of API requests in seconds",
			Buckets: []float64{
				0.005, // 5ms
				0.01,  // 10ms
				0.025, // 25ms
				0.05,  // 50ms
				0.1,   // 100ms
				0.25,  // 250ms
				0.5,   // 500ms
				1.0,   // 1s
				2.5,   // 2.5s
				5.0,   // 5s
			},
		},
		[]string{"route", "status"},
	)
)

// ObserveRequest records a finished request for route with the given status code class.
func ObserveRequest(route string, status int, started time.Time) {
	HTTPRequestDuration.WithLabelValues(route, statusClass(status)).Observe(time.Since(started).Seconds())
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CallbacksReceived counts inbound provider callbacks by channel and what
	// the reconciler did with them.
	CallbacksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_callbacks_received_total",
		Help: "Inbound provider callbacks by channel and outcome.",
	}, []string{"channel", "outcome"})

	// LedgerPosts counts appended ledger entries by type.
	LedgerPosts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_ledger_posts_total",
		Help: "Ledger entries appended by entry type.",
	}, []string{"entry_type"})

	// InitiationsStarted counts initiated transactions/payouts by method.
	InitiationsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_initiations_total",
		Help: "Payment and payout initiations by method.",
	}, []string{"kind", "method"})
)

// Callback outcome label values.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeConflict  = "conflict"
	OutcomeNotFound  = "not_found"
	OutcomeIgnored   = "ignored"
	OutcomeError     = "error"
)

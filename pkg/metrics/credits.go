package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for CreditMetrics.
const (
	OutcomeSuccess      = "success"
	OutcomeInsufficient = "insufficient"
	OutcomeReplayed     = "replayed"
	OutcomeFailed       = "failed"
)

// CreditMetrics counts ledger operations. A nil receiver is a no-op so services
// can run without a registry in tests.
type CreditMetrics struct {
	operations *prometheus.CounterVec
	credits    *prometheus.CounterVec
	expired    *prometheus.CounterVec
	flags      prometheus.Counter
}

// NewCreditMetrics registers the ledger metrics on the provided registerer.
func NewCreditMetrics(reg prometheus.Registerer) *CreditMetrics {
	if reg == nil {
		return &CreditMetrics{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "credits_operations_total",
		Help: "Ledger operations by name and outcome.",
	}, []string{"operation", "outcome"})
	credits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "credits_moved_total",
		Help: "Credits moved by successful ledger operations.",
	}, []string{"operation"})
	expired := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "credits_expired_total",
		Help: "Credits removed by expiry sweeps.",
	}, []string{"scope"})
	flags := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "credits_reconciliation_flags_total",
		Help: "Records flagged for manual reconciliation.",
	})
	reg.MustRegister(operations, credits, expired, flags)
	return &CreditMetrics{
		operations: operations,
		credits:    credits,
		expired:    expired,
		flags:      flags,
	}
}

// Observe records one operation outcome and, on success, the credits it moved.
func (m *CreditMetrics) Observe(operation, outcome string, amount int64) {
	if m == nil || m.operations == nil {
		return
	}
	m.operations.WithLabelValues(normalizeLabel(operation), outcome).Inc()
	if outcome == OutcomeSuccess && amount > 0 {
		m.credits.WithLabelValues(normalizeLabel(operation)).Add(float64(amount))
	}
}

// AddExpired records credits swept from the given scope.
func (m *CreditMetrics) AddExpired(scope string, amount int64) {
	if m == nil || m.expired == nil || amount <= 0 {
		return
	}
	m.expired.WithLabelValues(normalizeLabel(scope)).Add(float64(amount))
}

// IncReconciliationFlag records a newly flagged record.
func (m *CreditMetrics) IncReconciliationFlag() {
	if m == nil || m.flags == nil {
		return
	}
	m.flags.Inc()
}

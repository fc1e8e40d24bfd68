package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "market"

// Outcome label values shared by the ledger and access counters.
const (
	OutcomeSuccess           = "success"
	OutcomeDuplicate         = "duplicate"
	OutcomeConflict          = "conflict"
	OutcomeInvalid           = "invalid"
	OutcomeNotFound          = "not_found"
	OutcomeAlreadyOwned      = "already_owned"
	OutcomeInsufficientFunds = "insufficient_funds"
	OutcomeInvalidPassword   = "invalid_credentials"
	OutcomeLocked            = "locked"
	OutcomeError             = "error"
)

// LedgerMetrics counts wallet and login outcomes. A nil *LedgerMetrics is valid and records nothing.
type LedgerMetrics struct {
	purchases     *prometheus.CounterVec
	topUps        *prometheus.CounterVec
	loginAttempts *prometheus.CounterVec
	lockouts      prometheus.Counter
}

// NewLedgerMetrics registers the counters with reg (the default registerer when nil).
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &LedgerMetrics{
		purchases: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "purchases_total",
			Help:      "App purchase attempts partitioned by outcome.",
		}, []string{"outcome"}),
		topUps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "top_ups_total",
			Help:      "Balance top-up attempts partitioned by outcome.",
		}, []string{"outcome"}),
		loginAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "access",
			Name:      "login_attempts_total",
			Help:      "Login attempts partitioned by outcome.",
		}, []string{"outcome"}),
		lockouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "access",
			Name:      "lockouts_total",
			Help:      "Accounts moved into lockout after repeated failed logins.",
		}),
	}
}

func (m *LedgerMetrics) ObservePurchase(outcome string) {
	if m == nil {
		return
	}
	m.purchases.WithLabelValues(outcome).Inc()
}

func (m *LedgerMetrics) ObserveTopUp(outcome string) {
	if m == nil {
		return
	}
	m.topUps.WithLabelValues(outcome).Inc()
}

func (m *LedgerMetrics) ObserveLogin(outcome string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(outcome).Inc()
}

func (m *LedgerMetrics) ObserveLockout() {
	if m == nil {
		return
	}
	m.lockouts.Inc()
}

// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels shared by the ledger counters.
const (
	OutcomeOK        = "ok"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeError     = "error"
)

// Metrics holds the service collectors.  Its methods are nil-safe.
type Metrics struct {
	CheckIns      *prometheus.CounterVec
	Claims        *prometheus.CounterVec
	LowStock      *prometheus.CounterVec
	ImportRows    *prometheus.CounterVec
	Notifications *prometheus.CounterVec
	TxDuration    *prometheus.HistogramVec
}

// New registers the collectors on reg.  A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		CheckIns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "credentials_checkins_total",
			Help: "Check-in attempts by outcome",
		}, []string{"outcome"}),
		Claims: f.NewCounterVec(prometheus.CounterOpts{
			Name: "credentials_claims_total",
			Help: "Resource claim attempts by resource type and outcome",
		}, []string{"resource", "outcome"}),
		LowStock: f.NewCounterVec(prometheus.CounterOpts{
			Name: "credentials_low_stock_signals_total",
			Help: "Claims that reported remaining stock at or below the low threshold",
		}, []string{"resource"}),
		ImportRows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "credentials_import_rows_total",
			Help: "Bulk import rows by classification",
		}, []string{"kind"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "credentials_notifications_total",
			Help: "Notifications by result (sent, dropped, failed)",
		}, []string{"result"}),
		TxDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "credentials_ledger_tx_duration_seconds",
			Help:    "Duration of ledger transactions",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}
}

// CheckIn counts a check-in attempt.
func (m *Metrics) CheckIn(outcome string) {
	if m == nil {
		return
	}
	m.CheckIns.WithLabelValues(outcome).Inc()
}

// Claim counts a claim attempt and, when low is set, a low-stock signal.
func (m *Metrics) Claim(resource, outcome string, low bool) {
	if m == nil {
		return
	}
	m.Claims.WithLabelValues(resource, outcome).Inc()
	if low {
		m.LowStock.WithLabelValues(resource).Inc()
	}
}

func (m *Metrics) ImportRow(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ImportRows.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) Notification(result string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(result).Inc()
}

// ObserveTx records the duration of a ledger transaction in seconds.
func (m *Metrics) ObserveTx(op string, seconds float64) {
	if m == nil {
		return
	}
	m.TxDuration.WithLabelValues(op).Observe(seconds)
}

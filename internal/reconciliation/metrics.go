package reconciliation

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the auditor's Prometheus collectors
type Metrics struct {
	ConsistencyRate      prometheus.Gauge
	AccountsAudited      prometheus.Gauge
	DivergencesDetected  prometheus.Counter
	AuditRuns            prometheus.Counter
}

// NewMetrics creates and registers the auditor collectors
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConsistencyRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reconciliation_consistency_rate",
			Help: "Percentage of audited accounts whose balance matches the transaction log",
		}),
		AccountsAudited: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reconciliation_accounts_audited",
			Help: "Number of accounts checked in the last audit run",
		}),
		DivergencesDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reconciliation_divergences_total",
			Help: "Number of balance divergences detected since start",
		}),
		AuditRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reconciliation_runs_total",
			Help: "Number of completed audit runs",
		}),
	}
	reg.MustRegister(m.ConsistencyRate, m.AccountsAudited, m.DivergencesDetected, m.AuditRuns)
	return m
}

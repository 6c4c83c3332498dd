// services/metrics.go
package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is safe to use as nil; nothing is recorded then.
type Metrics struct {
	depositsConfirmed  prometheus.Counter
	completionsWritten prometheus.Counter
	settlements        *prometheus.CounterVec
	claims             prometheus.Counter
	withdrawals        *prometheus.CounterVec
	sponsoredLamports  prometheus.Counter
}

func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		return nil
	}
	factory := promauto.With(registry)
	return &Metrics{
		depositsConfirmed: factory.NewCounter(prometheus.CounterOpts{
			Name: "quest_deposits_confirmed_total",
			Help: "Total number of quests marked paid after their vault was funded",
		}),
		completionsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "quest_completions_written_total",
			Help: "Total number of completion records written by verification passes",
		}),
		settlements: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quest_settlements_total",
			Help: "Total number of settlement attempts by result",
		}, []string{"result"}),
		claims: factory.NewCounter(prometheus.CounterOpts{
			Name: "quest_reward_claims_total",
			Help: "Total number of rewards claimed",
		}),
		withdrawals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quest_withdrawals_total",
			Help: "Total number of wallet withdrawals by result",
		}, []string{"result"}),
		sponsoredLamports: factory.NewCounter(prometheus.CounterOpts{
			Name: "quest_sponsored_fee_lamports_total",
			Help: "Lamports sent by the treasury to cover transaction fees",
		}),
	}
}

func (m *Metrics) DepositConfirmed() {
	if m != nil {
		m.depositsConfirmed.Inc()
	}
}

func (m *Metrics) CompletionsWritten(n int) {
	if m != nil {
		m.completionsWritten.Add(float64(n))
	}
}

func (m *Metrics) Settlement(result string) {
	if m != nil {
		m.settlements.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Claimed() {
	if m != nil {
		m.claims.Inc()
	}
}

func (m *Metrics) Withdrawal(result string) {
	if m != nil {
		m.withdrawals.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) FeeSponsored(lamports uint64) {
	if m != nil {
		m.sponsoredLamports.Add(float64(lamports))
	}
}

// Package metrics holds the Prometheus instruments for ledger, market and
// casino units. A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/alanyoungcy/betledger/internal/domain"
)

// Metrics holds all Prometheus metrics for betledger.
type Metrics struct {
	Transfers    *prometheus.CounterVec
	Interactions *prometheus.CounterVec
	CasinoTrades *prometheus.CounterVec
	UnitsFailed  *prometheus.CounterVec
	UnitDuration *prometheus.HistogramVec
	PayoutVolume *prometheus.CounterVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transfers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "betledger_ledger_transfers_total",
			Help: "Committed ledger entries by kind",
		}, []string{"kind"}),

		Interactions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "betledger_market_interactions_total",
			Help: "Committed market interactions by direction",
		}, []string{"direction"}),

		CasinoTrades: f.NewCounterVec(prometheus.CounterOpts{
			Name: "betledger_casino_trades_total",
			Help: "Casino trades by the state they moved into",
		}, []string{"state"}),

		UnitsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "betledger_units_failed_total",
			Help: "Units that did not commit, by operation and reason",
		}, []string{"op", "reason"}),

		UnitDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "betledger_unit_duration_seconds",
			Help:    "Wall time of one unit of work",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"op"}),

		PayoutVolume: f.NewCounterVec(prometheus.CounterOpts{
			Name: "betledger_payout_units_total",
			Help: "Collateral paid out, by source, in whole token units (approximate)",
		}, []string{"source"}),
	}
}

// ObserveUnit records the duration of op and, when err is set, why it failed.
func (m *Metrics) ObserveUnit(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.UnitDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		m.UnitsFailed.WithLabelValues(op, failureReason(err)).Inc()
	}
}

// ObserveTransfers counts committed ledger entries.
func (m *Metrics) ObserveTransfers(ts []domain.Transfer) {
	if m == nil {
		return
	}
	for _, t := range ts {
		m.Transfers.WithLabelValues(string(t.Kind())).Inc()
	}
}

// ObserveInteraction counts one committed market interaction.
func (m *Metrics) ObserveInteraction(dir domain.Direction) {
	if m == nil {
		return
	}
	m.Interactions.WithLabelValues(string(dir)).Inc()
}

// ObserveTrades counts n trades that moved into state.
func (m *Metrics) ObserveTrades(state domain.TradeState, n int) {
	if m == nil || n == 0 {
		return
	}
	m.CasinoTrades.WithLabelValues(state.String()).Add(float64(n))
}

// ObservePayout adds a paid amount. Amounts above float64 precision are
// approximated, which is fine for a rate graph.
func (m *Metrics) ObservePayout(source string, amount *big.Int) {
	if m == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	f, _ := new(big.Float).SetInt(amount).Float64()
	m.PayoutVolume.WithLabelValues(source).Add(f)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrPersistence):
		return "persistence"
	default:
		return "rejected"
	}
}

package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type CashbackMetrics struct {
	transactionsProcessed *prometheus.CounterVec
	cashbackPaidWei       prometheus.Counter
	rulesRegistered       prometheus.Counter
	withdrawalsProcessed  prometheus.Counter
	reserveBalanceWei     prometheus.Gauge
}

var (
	cashbackOnce     sync.Once
	cashbackRegistry *CashbackMetrics
)

func Cashback() *CashbackMetrics {
	cashbackOnce.Do(func() {
		cashbackRegistry = &CashbackMetrics{
			transactionsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "cashback_transactions_processed_total",
				Help: "Count of processed transactions by outcome.",
			}, []string{"outcome"}),
			cashbackPaidWei: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "cashback_paid_wei_total",
				Help: "Total cashback paid out, in wei.",
			}),
			rulesRegistered: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "cashback_rules_registered_total",
				Help: "Count of registered cashback rules.",
			}),
			withdrawalsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "cashback_withdrawals_total",
				Help: "Count of admin reserve withdrawals.",
			}),
			reserveBalanceWei: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "cashback_reserve_balance_wei",
				Help: "Current reserve balance available for payouts, in wei.",
			}),
		}
		prometheus.MustRegister(
			cashbackRegistry.transactionsProcessed,
			cashbackRegistry.cashbackPaidWei,
			cashbackRegistry.rulesRegistered,
			cashbackRegistry.withdrawalsProcessed,
			cashbackRegistry.reserveBalanceWei,
		)
	})
	return cashbackRegistry
}

// ObserveTransaction records a processed transaction with the given outcome
// label ("paid", or the failure name).
func (m *CashbackMetrics) ObserveTransaction(outcome string) {
	if m == nil {
		return
	}
	m.transactionsProcessed.WithLabelValues(outcome).Inc()
}

// AddCashbackPaid accumulates the paid amount. Precision loss above 2^53 wei
// is acceptable for monitoring purposes.
func (m *CashbackMetrics) AddCashbackPaid(amount *big.Int) {
	if m == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	value, _ := new(big.Float).SetInt(amount).Float64()
	m.cashbackPaidWei.Add(value)
}

// RuleRegistered records a successful rule registration.
func (m *CashbackMetrics) RuleRegistered() {
	if m == nil {
		return
	}
	m.rulesRegistered.Inc()
}

// WithdrawalProcessed records a successful admin withdrawal.
func (m *CashbackMetrics) WithdrawalProcessed() {
	if m == nil {
		return
	}
	m.withdrawalsProcessed.Inc()
}

// SetReserveBalance updates the reserve gauge.
func (m *CashbackMetrics) SetReserveBalance(balance *big.Int) {
	if m == nil || balance == nil {
		return
	}
	value, _ := new(big.Float).SetInt(balance).Float64()
	m.reserveBalanceWei.Set(value)
}

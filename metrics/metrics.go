package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Cycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "revbot_cycles_total",
			Help: "Total number of reconciliation cycles started.",
		},
	)

	CycleErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revbot_cycle_errors_total",
			Help: "Gateway failures by stage (balance, positions, tickers, klines, precision).",
		},
		[]string{"stage"},
	)

	OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revbot_orders_submitted_total",
			Help: "Accepted order submissions by kind (entry, close, refresh).",
		},
		[]string{"kind"},
	)

	OrderFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revbot_order_failures_total",
			Help: "Rejected or failed order submissions by kind.",
		},
		[]string{"kind"},
	)

	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "revbot_open_positions",
			Help: "Open positions as of the last poll.",
		},
	)

	WalletBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "revbot_wallet_balance",
			Help: "Wallet balance as of the last poll.",
		},
	)

	ClosedPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "revbot_closed_pnl",
			Help: "Realized PnL summed over the recent closed-trade window.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		Cycles, CycleErrors,
		OrdersSubmitted, OrderFailures,
		OpenPositions, WalletBalance, ClosedPnL,
	)
}

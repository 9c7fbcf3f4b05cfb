package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_scans_total",
			Help: "Scans by symbol and outcome reason",
		},
		[]string{"symbol", "reason"},
	)

	PositionsOpened = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_positions_opened_total",
			Help: "Simulated positions opened",
		},
		[]string{"symbol", "side"},
	)

	PositionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_positions_closed_total",
			Help: "Simulated positions closed by exit reason and outcome",
		},
		[]string{"symbol", "reason", "outcome"},
	)

	Balance = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agent_balance_usdt",
			Help: "Available paper balance",
		},
	)

	OpenPositions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agent_open_positions",
			Help: "Number of open simulated positions",
		},
	)

	// RealizedPnL is a gauge because PnL can be negative.
	RealizedPnL = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agent_realized_pnl_usdt",
			Help: "Net realized PnL since process start",
		},
	)

	SignalRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agent_signal_request_duration_seconds",
			Help:    "Signal generator request latency",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		},
		[]string{"status"},
	)

	MarketEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_market_events_total",
			Help: "Market stream events received by kind",
		},
		[]string{"kind"},
	)
)

package domain

import (
	"math"
	"time"
)

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
	ActionWait Action = "WAIT"
)

const (
	MinLeverage = 1
	MaxLeverage = 20
)

// IsActionable reports whether the action asks for a new position.
func (a Action) IsActionable() bool {
	return a == ActionBuy || a == ActionSell
}

func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionHold, ActionWait:
		return true
	}
	return false
}

// QuantMetrics is the primary-timeframe indicator summary attached to a decision.
type QuantMetrics struct {
	RegimeScore     float64 `json:"regimeScore"`
	FilteredPrice   float64 `json:"filteredPrice"`
	ATR             float64 `json:"atr"`
	VolatilityIndex float64 `json:"volatilityIndex"`
	KellyPercent    float64 `json:"kellyPercent"`
}

// TradeDecision is a decision proposed by the signal generator. It is untrusted
// until Normalize has been applied and the gate has validated it.
type TradeDecision struct {
	Action       Action        `json:"action"`
	Confidence   float64       `json:"confidence"`
	Leverage     int           `json:"leverage"`
	StopLoss     float64       `json:"stopLoss"`
	TakeProfit   float64       `json:"takeProfit"`
	Reasoning    string        `json:"reasoning"`
	QuantMetrics *QuantMetrics `json:"quantMetrics,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// Normalize clamps confidence to [0,100] and leverage to [1,20] and replaces
// non-finite targets with zero.
func (d *TradeDecision) Normalize() {
	if math.IsNaN(d.Confidence) {
		d.Confidence = 0
	}
	d.Confidence = math.Max(0, math.Min(100, d.Confidence))
	d.Leverage = ClampLeverage(d.Leverage)
	if math.IsNaN(d.StopLoss) || math.IsInf(d.StopLoss, 0) {
		d.StopLoss = 0
	}
	if math.IsNaN(d.TakeProfit) || math.IsInf(d.TakeProfit, 0) {
		d.TakeProfit = 0
	}
	if !d.Action.Valid() {
		d.Action = ActionWait
	}
}

func ClampLeverage(leverage int) int {
	if leverage < MinLeverage {
		return MinLeverage
	}
	if leverage > MaxLeverage {
		return MaxLeverage
	}
	return leverage
}

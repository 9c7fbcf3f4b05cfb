package domain

import "time"

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// SideForAction maps an actionable decision to a position side.
func SideForAction(a Action) (Side, bool) {
	switch a {
	case ActionBuy:
		return SideLong, true
	case ActionSell:
		return SideShort, true
	}
	return "", false
}

// Position is a simulated leveraged position. At most one exists per symbol.
type Position struct {
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	EntryPrice    float64   `json:"entryPrice"`
	Amount        float64   `json:"amount"`
	Leverage      int       `json:"leverage"`
	InitialMargin float64   `json:"initialMargin"`
	TakeProfit    float64   `json:"takeProfit"`
	StopLoss      float64   `json:"stopLoss"`
	HighWaterMark float64   `json:"highWaterMark"`
	OpenedAt      time.Time `json:"openedAt"`
}

// FloatingPnL is the gross unrealized PnL at the given price, before fees.
func (p Position) FloatingPnL(price float64) float64 {
	if p.Side == SideShort {
		return (p.EntryPrice - price) * p.Amount
	}
	return (price - p.EntryPrice) * p.Amount
}

type Outcome string

const (
	OutcomeWin  Outcome = "WIN"
	OutcomeLoss Outcome = "LOSS"
)

type ExitReason string

const (
	ExitTakeProfit  ExitReason = "TAKE_PROFIT"
	ExitStopLoss    ExitReason = "STOP_LOSS"
	ExitLiquidation ExitReason = "LIQUIDATION"
	ExitManual      ExitReason = "MANUAL"
)

// TradeResult is the settled record of a closed position.
type TradeResult struct {
	ID         string     `json:"id"`
	Symbol     string     `json:"symbol"`
	Side       Side       `json:"side"`
	EntryPrice float64    `json:"entryPrice"`
	ExitPrice  float64    `json:"exitPrice"`
	Amount     float64    `json:"amount"`
	Leverage   int        `json:"leverage"`
	Fees       float64    `json:"fees"`
	PnL        float64    `json:"pnl"`
	Outcome    Outcome    `json:"result"`
	ExitReason ExitReason `json:"exitReason"`
	OpenedAt   time.Time  `json:"openedAt"`
	ClosedAt   time.Time  `json:"closedAt"`
}

// LedgerState is the persisted account state.
type LedgerState struct {
	Balance   float64             `json:"balance"`
	Positions map[string]Position `json:"positions"`
	History   []TradeResult       `json:"history"`
}

// Equity summarises the account at the latest known prices.
type Equity struct {
	Balance       float64 `json:"balance"`
	MarginInUse   float64 `json:"marginInUse"`
	UnrealizedPnL float64 `json:"unrealizedPnl"`
	Equity        float64 `json:"equity"`
	RealizedPnL   float64 `json:"realizedPnl"`
	Wins          int     `json:"wins"`
	Losses        int     `json:"losses"`
	WinRate       float64 `json:"winRate"`
	OpenPositions int     `json:"openPositions"`
}

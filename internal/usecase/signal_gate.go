package usecase

import (
	"sync"
	"time"

	"github.com/vitos/crypto_paper_agent/internal/domain"
)

// GateReason tells the scheduler why a scan ended and which delay applies.
type GateReason string

const (
	ReasonProceed         GateReason = "proceed"
	ReasonActivePosition  GateReason = "active_position"
	ReasonRateLimited     GateReason = "rate_limited"
	ReasonNoData          GateReason = "no_data"
	ReasonNoSignal        GateReason = "no_signal"
	ReasonLowConfidence   GateReason = "low_confidence"
	ReasonInvalidTargets  GateReason = "invalid_targets"
	ReasonSignalFailed    GateReason = "signal_failed"
	ReasonSignalThrottled GateReason = "signal_throttled"
	ReasonHistoryFailed   GateReason = "history_failed"
	ReasonNoBalance       GateReason = "insufficient_balance"
	ReasonExecute         GateReason = "execute"
)

type GateConfig struct {
	MinScanInterval time.Duration
	RateLimitSlack  time.Duration
	ConfidenceFloor float64
	// MinStopDistance is the minimum |price-stop| as a fraction of price.
	MinStopDistance float64
	// StopWiden is where a too-close stop is moved, as a fraction of price.
	StopWiden   float64
	MaxLeverage int
}

func DefaultGateConfig() GateConfig {
	return GateConfig{
		MinScanInterval: 10 * time.Second,
		RateLimitSlack:  500 * time.Millisecond,
		ConfidenceFloor: 70,
		MinStopDistance: 0.0005,
		StopWiden:       0.005,
		MaxLeverage:     domain.MaxLeverage,
	}
}

// GateInput is what the gate needs to know before a signal is requested.
type GateInput struct {
	Position  *domain.Position
	LivePrice float64
	HasData   bool
}

type AdmitResult struct {
	Reason      GateReason
	Wait        time.Duration // remaining wait when rate limited
	FloatingPnL float64       // set when a position is already open
}

func (r AdmitResult) Admitted() bool {
	return r.Reason == ReasonProceed
}

// ValidatedOrder is a decision that passed the gate, ready for PositionManager.
type ValidatedOrder struct {
	Side           domain.Side
	Leverage       int
	StopLoss       float64
	TakeProfit     float64
	ExecutionPrice float64
	StopWidened    bool
	KellyPercent   float64
}

type ValidateResult struct {
	Reason GateReason
	Order  *ValidatedOrder
}

func (r ValidateResult) Actionable() bool {
	return r.Order != nil
}

// SignalGate applies the entry guards in a fixed order. One gate is owned by
// one scheduler; the rate-limit clock is per gate.
type SignalGate struct {
	cfg            GateConfig
	mu             sync.Mutex
	lastEvaluation time.Time
	timeNow        func() time.Time
}

func NewSignalGate(cfg GateConfig) *SignalGate {
	return &SignalGate{
		cfg:     cfg,
		timeNow: time.Now,
	}
}

// Admit runs the active-position, rate-limit and data guards. A successful
// admission consumes the rate-limit slot.
func (g *SignalGate) Admit(in GateInput) AdmitResult {
	if in.Position != nil {
		price := in.LivePrice
		if price <= 0 {
			price = in.Position.EntryPrice
		}
		return AdmitResult{Reason: ReasonActivePosition, FloatingPnL: in.Position.FloatingPnL(price)}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.timeNow()
	if !g.lastEvaluation.IsZero() {
		elapsed := now.Sub(g.lastEvaluation)
		if elapsed < g.cfg.MinScanInterval {
			return AdmitResult{
				Reason: ReasonRateLimited,
				Wait:   g.cfg.MinScanInterval - elapsed + g.cfg.RateLimitSlack,
			}
		}
	}

	if !in.HasData {
		return AdmitResult{Reason: ReasonNoData}
	}

	g.lastEvaluation = now
	return AdmitResult{Reason: ReasonProceed}
}

// Validate applies the confidence floor and target checks to a decision.
// Stops that are too close to price, or on the wrong side of it, are widened
// to StopWiden away on the protective side. A take-profit that is not beyond
// price in the trade direction makes the decision non-actionable.
func (g *SignalGate) Validate(d *domain.TradeDecision, executionPrice float64) ValidateResult {
	if d == nil || !d.Action.IsActionable() {
		return ValidateResult{Reason: ReasonNoSignal}
	}
	if d.Confidence < g.cfg.ConfidenceFloor {
		return ValidateResult{Reason: ReasonLowConfidence}
	}
	if executionPrice <= 0 {
		return ValidateResult{Reason: ReasonNoData}
	}

	side, _ := domain.SideForAction(d.Action)
	if d.TakeProfit <= 0 ||
		(side == domain.SideLong && d.TakeProfit <= executionPrice) ||
		(side == domain.SideShort && d.TakeProfit >= executionPrice) {
		return ValidateResult{Reason: ReasonInvalidTargets}
	}

	order := &ValidatedOrder{
		Side:           side,
		Leverage:       domain.ClampLeverage(d.Leverage),
		StopLoss:       d.StopLoss,
		TakeProfit:     d.TakeProfit,
		ExecutionPrice: executionPrice,
	}
	if g.cfg.MaxLeverage > 0 && order.Leverage > g.cfg.MaxLeverage {
		order.Leverage = g.cfg.MaxLeverage
	}
	if d.QuantMetrics != nil {
		order.KellyPercent = d.QuantMetrics.KellyPercent
	}

	minDistance := executionPrice * g.cfg.MinStopDistance
	switch side {
	case domain.SideLong:
		if executionPrice-d.StopLoss < minDistance {
			order.StopLoss = executionPrice * (1 - g.cfg.StopWiden)
			order.StopWidened = true
		}
	case domain.SideShort:
		if d.StopLoss-executionPrice < minDistance {
			order.StopLoss = executionPrice * (1 + g.cfg.StopWiden)
			order.StopWidened = true
		}
	}

	return ValidateResult{Reason: ReasonExecute, Order: order}
}

// Reset forgets the last evaluation time.
func (g *SignalGate) Reset() {
	g.mu.Lock()
	g.lastEvaluation = time.Time{}
	g.mu.Unlock()
}

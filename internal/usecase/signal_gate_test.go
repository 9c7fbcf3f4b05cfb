package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_paper_agent/internal/domain"
)

func newTestGate(floor float64) (*SignalGate, *time.Time) {
	cfg := DefaultGateConfig()
	cfg.ConfidenceFloor = floor
	g := NewSignalGate(cfg)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	g.timeNow = func() time.Time { return now }
	return g, &now
}

func TestSignalGate_AdmitOrder(t *testing.T) {
	g, now := newTestGate(70)

	// 1. Active position wins over everything, even missing data
	pos := &domain.Position{Symbol: "BTCUSDT", Side: domain.SideLong, EntryPrice: 100, Amount: 2}
	res := g.Admit(GateInput{Position: pos, LivePrice: 103, HasData: false})
	assert.Equal(t, ReasonActivePosition, res.Reason)
	assert.InDelta(t, 6.0, res.FloatingPnL, 1e-9)

	// 2. No data does not consume the rate-limit slot
	res = g.Admit(GateInput{HasData: false})
	assert.Equal(t, ReasonNoData, res.Reason)

	res = g.Admit(GateInput{HasData: true})
	require.True(t, res.Admitted())

	// 3. Second scan inside the interval is deferred with the remaining wait plus slack
	*now = now.Add(4 * time.Second)
	res = g.Admit(GateInput{HasData: true})
	assert.Equal(t, ReasonRateLimited, res.Reason)
	assert.Equal(t, 6*time.Second+500*time.Millisecond, res.Wait)

	// Rate limit is checked before data availability
	res = g.Admit(GateInput{HasData: false})
	assert.Equal(t, ReasonRateLimited, res.Reason)

	*now = now.Add(6 * time.Second)
	assert.True(t, g.Admit(GateInput{HasData: true}).Admitted())
}

func TestSignalGate_ShortPositionFloatingPnL(t *testing.T) {
	g, _ := newTestGate(70)
	pos := &domain.Position{Symbol: "ETHUSDT", Side: domain.SideShort, EntryPrice: 2000, Amount: 0.5}
	res := g.Admit(GateInput{Position: pos, LivePrice: 1990})
	assert.InDelta(t, 5.0, res.FloatingPnL, 1e-9)
}

func TestSignalGate_Validate(t *testing.T) {
	tests := []struct {
		name        string
		floor       float64
		decision    *domain.TradeDecision
		price       float64
		reason      GateReason
		stopLoss    float64
		stopWidened bool
	}{
		{
			name:     "confidence below floor",
			floor:    65,
			decision: &domain.TradeDecision{Action: domain.ActionBuy, Confidence: 60, Leverage: 5, StopLoss: 95, TakeProfit: 110},
			price:    100,
			reason:   ReasonLowConfidence,
		},
		{
			name:     "hold is not actionable",
			floor:    65,
			decision: &domain.TradeDecision{Action: domain.ActionHold, Confidence: 99},
			price:    100,
			reason:   ReasonNoSignal,
		},
		{
			name:     "nil decision",
			floor:    65,
			decision: nil,
			price:    100,
			reason:   ReasonNoSignal,
		},
		{
			name:     "valid long keeps its stop",
			floor:    70,
			decision: &domain.TradeDecision{Action: domain.ActionBuy, Confidence: 80, Leverage: 5, StopLoss: 95, TakeProfit: 110},
			price:    100,
			reason:   ReasonExecute,
			stopLoss: 95,
		},
		{
			name:        "long stop too close is widened",
			floor:       70,
			decision:    &domain.TradeDecision{Action: domain.ActionBuy, Confidence: 80, Leverage: 5, StopLoss: 99.99, TakeProfit: 110},
			price:       100,
			reason:      ReasonExecute,
			stopLoss:    99.5,
			stopWidened: true,
		},
		{
			name:        "long stop above price is widened",
			floor:       70,
			decision:    &domain.TradeDecision{Action: domain.ActionBuy, Confidence: 80, Leverage: 5, StopLoss: 101, TakeProfit: 110},
			price:       100,
			reason:      ReasonExecute,
			stopLoss:    99.5,
			stopWidened: true,
		},
		{
			name:        "short stop too close is widened",
			floor:       70,
			decision:    &domain.TradeDecision{Action: domain.ActionSell, Confidence: 90, Leverage: 3, StopLoss: 100.01, TakeProfit: 90},
			price:       100,
			reason:      ReasonExecute,
			stopLoss:    100.5,
			stopWidened: true,
		},
		{
			name:     "long take profit below price",
			floor:    70,
			decision: &domain.TradeDecision{Action: domain.ActionBuy, Confidence: 80, Leverage: 5, StopLoss: 95, TakeProfit: 99},
			price:    100,
			reason:   ReasonInvalidTargets,
		},
		{
			name:     "short with zero take profit",
			floor:    70,
			decision: &domain.TradeDecision{Action: domain.ActionSell, Confidence: 80, Leverage: 5, StopLoss: 105, TakeProfit: 0},
			price:    100,
			reason:   ReasonInvalidTargets,
		},
		{
			name:     "no execution price",
			floor:    70,
			decision: &domain.TradeDecision{Action: domain.ActionSell, Confidence: 80, Leverage: 5, StopLoss: 105, TakeProfit: 90},
			price:    0,
			reason:   ReasonNoData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newTestGate(tt.floor)
			res := g.Validate(tt.decision, tt.price)
			assert.Equal(t, tt.reason, res.Reason)
			if tt.reason != ReasonExecute {
				assert.False(t, res.Actionable())
				return
			}
			require.True(t, res.Actionable())
			assert.InDelta(t, tt.stopLoss, res.Order.StopLoss, 1e-9)
			assert.Equal(t, tt.stopWidened, res.Order.StopWidened)
			assert.Equal(t, tt.price, res.Order.ExecutionPrice)
		})
	}
}

func TestSignalGate_ValidateClampsLeverageAndCarriesKelly(t *testing.T) {
	g, _ := newTestGate(70)
	d := &domain.TradeDecision{
		Action: domain.ActionSell, Confidence: 75, Leverage: 50, StopLoss: 110, TakeProfit: 90,
		QuantMetrics: &domain.QuantMetrics{KellyPercent: 30},
	}
	res := g.Validate(d, 100)
	require.True(t, res.Actionable())
	assert.Equal(t, domain.SideShort, res.Order.Side)
	assert.Equal(t, 20, res.Order.Leverage)
	assert.Equal(t, 30.0, res.Order.KellyPercent)
}

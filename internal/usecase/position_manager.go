package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/crypto_paper_agent/internal/domain"
	"github.com/vitos/crypto_paper_agent/internal/infrastructure/metrics"
	"go.uber.org/zap"
)

type RiskConfig struct {
	FeeRate             float64
	TrailingGap         float64
	LiquidationFraction float64
	MarginFraction      float64
	MinMargin           float64
	MaxMargin           float64
}

func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		FeeRate:             0.0005,
		TrailingGap:         0.003,
		LiquidationFraction: 0.9,
		MarginFraction:      0.20,
		MinMargin:           5,
		MaxMargin:           20,
	}
}

// PriceSource supplies the last live price seen for a symbol.
type PriceSource interface {
	LastPrice(symbol string) (float64, bool)
}

// Settlement is the fee-adjusted result of closing a position at a price.
type Settlement struct {
	GrossPnL float64
	Fees     float64
	NetPnL   float64
	Returned float64
}

// Settle charges the fee rate on both the entry and exit notional.
func Settle(p domain.Position, exitPrice, feeRate float64) Settlement {
	entryNotional := p.Amount * p.EntryPrice
	exitNotional := p.Amount * exitPrice
	gross := p.FloatingPnL(exitPrice)
	fees := (entryNotional + exitNotional) * feeRate
	net := gross - fees
	return Settlement{GrossPnL: gross, Fees: fees, NetPnL: net, Returned: p.InitialMargin + net}
}

// ComputeMargin sizes a trade from the balance. A positive Kelly percentage
// replaces the fixed fraction with half-Kelly. The result is capped at
// MaxMargin and floored at MinMargin.
func (c RiskConfig) ComputeMargin(balance, kellyPercent float64) float64 {
	margin := balance * c.MarginFraction
	if kellyPercent > 0 {
		margin = balance * (kellyPercent / 2 / 100)
	}
	return math.Min(math.Max(margin, c.MinMargin), c.MaxMargin)
}

// PositionManager owns position lifecycle: open, per-tick exit evaluation and
// settlement. All state lives in the ledger.
type PositionManager struct {
	ledger    *PortfolioLedger
	cfg       RiskConfig
	prices    PriceSource
	publisher domain.TradeEventPublisher
	logger    *zap.Logger
	timeNow   func() time.Time
	newID     func() string
}

func NewPositionManager(
	ledger *PortfolioLedger,
	cfg RiskConfig,
	prices PriceSource,
	publisher domain.TradeEventPublisher,
	logger *zap.Logger,
) *PositionManager {
	return &PositionManager{
		ledger:    ledger,
		cfg:       cfg,
		prices:    prices,
		publisher: publisher,
		logger:    logger,
		timeNow:   time.Now,
		newID:     func() string { return uuid.NewString() },
	}
}

func (m *PositionManager) Ledger() *PortfolioLedger {
	return m.ledger
}

// Open creates a position for symbol from a validated order. It fails with
// ErrInsufficientBalance when the balance cannot cover the minimum margin and
// with ErrPositionExists when symbol already has a position.
func (m *PositionManager) Open(ctx context.Context, symbol string, order ValidatedOrder) (domain.Position, error) {
	if order.ExecutionPrice <= 0 {
		return domain.Position{}, fmt.Errorf("open %s: %w", symbol, domain.ErrNoLivePrice)
	}

	var (
		pos     domain.Position
		openErr error
	)
	m.ledger.mutate(ctx, func(b *ledgerBook) bool {
		if _, exists := b.positions[symbol]; exists {
			openErr = domain.ErrPositionExists
			return false
		}
		if b.balance < m.cfg.MinMargin {
			openErr = domain.ErrInsufficientBalance
			return false
		}
		margin := m.cfg.ComputeMargin(b.balance, order.KellyPercent)
		if margin > b.balance {
			openErr = domain.ErrInsufficientBalance
			return false
		}
		leverage := domain.ClampLeverage(order.Leverage)

		pos = domain.Position{
			ID:            m.newID(),
			Symbol:        symbol,
			Side:          order.Side,
			EntryPrice:    order.ExecutionPrice,
			Amount:        margin * float64(leverage) / order.ExecutionPrice,
			Leverage:      leverage,
			InitialMargin: margin,
			TakeProfit:    order.TakeProfit,
			StopLoss:      order.StopLoss,
			HighWaterMark: order.ExecutionPrice,
			OpenedAt:      m.timeNow(),
		}
		b.balance -= margin
		b.positions[symbol] = pos
		return true
	})
	if openErr != nil {
		return domain.Position{}, fmt.Errorf("open %s: %w", symbol, openErr)
	}

	m.logger.Info("Position opened",
		zap.String("symbol", symbol),
		zap.String("side", string(pos.Side)),
		zap.Float64("price", pos.EntryPrice),
		zap.Float64("amount", pos.Amount),
		zap.Int("leverage", pos.Leverage),
		zap.Float64("margin", pos.InitialMargin),
		zap.Float64("stop_loss", pos.StopLoss),
		zap.Float64("take_profit", pos.TakeProfit))

	metrics.PositionsOpened.WithLabelValues(symbol, string(pos.Side)).Inc()
	m.observeLedger()
	if m.publisher != nil {
		if err := m.publisher.PublishOpened(ctx, pos); err != nil {
			m.logger.Warn("Failed to publish open event", zap.String("symbol", symbol), zap.Error(err))
		}
	}
	return pos, nil
}

// trail moves the high-water mark and the stop in the favourable direction.
// It reports whether the position changed.
func trail(p *domain.Position, price, gap float64) bool {
	switch p.Side {
	case domain.SideLong:
		if price > p.HighWaterMark {
			p.HighWaterMark = price
			if candidate := price * (1 - gap); candidate > p.StopLoss {
				p.StopLoss = candidate
			}
			return true
		}
	case domain.SideShort:
		if price < p.HighWaterMark {
			p.HighWaterMark = price
			if candidate := price * (1 + gap); candidate < p.StopLoss {
				p.StopLoss = candidate
			}
			return true
		}
	}
	return false
}

// exitReason checks take-profit, then stop-loss, then liquidation.
func (m *PositionManager) exitReason(p domain.Position, price float64) (domain.ExitReason, bool) {
	switch p.Side {
	case domain.SideLong:
		if price >= p.TakeProfit {
			return domain.ExitTakeProfit, true
		}
		if price <= p.StopLoss {
			return domain.ExitStopLoss, true
		}
	case domain.SideShort:
		if price <= p.TakeProfit {
			return domain.ExitTakeProfit, true
		}
		if price >= p.StopLoss {
			return domain.ExitStopLoss, true
		}
	}
	if p.FloatingPnL(price) <= -p.InitialMargin*m.cfg.LiquidationFraction {
		return domain.ExitLiquidation, true
	}
	return "", false
}

// OnTick evaluates the position on symbol, if any, at price. Trailing and the
// exit checks run under one ledger lock so a concurrent scan cannot observe a
// half-closed position. It returns the trade result when the tick closed it.
func (m *PositionManager) OnTick(ctx context.Context, symbol string, price float64) (*domain.TradeResult, bool) {
	if price <= 0 {
		return nil, false
	}

	var result *domain.TradeResult
	m.ledger.mutate(ctx, func(b *ledgerBook) bool {
		p, ok := b.positions[symbol]
		if !ok {
			return false
		}
		changed := trail(&p, price, m.cfg.TrailingGap)
		if reason, hit := m.exitReason(p, price); hit {
			r := m.settle(b, p, price, reason)
			result = &r
			return true
		}
		if changed {
			b.positions[symbol] = p
		}
		return changed
	})

	if result == nil {
		return nil, false
	}
	m.afterClose(ctx, *result)
	return result, true
}

// Close settles the position on symbol at exitPrice.
func (m *PositionManager) Close(ctx context.Context, symbol string, exitPrice float64, reason domain.ExitReason) (domain.TradeResult, error) {
	if exitPrice <= 0 {
		return domain.TradeResult{}, fmt.Errorf("close %s: %w", symbol, domain.ErrNoLivePrice)
	}
	var (
		result domain.TradeResult
		found  bool
	)
	m.ledger.mutate(ctx, func(b *ledgerBook) bool {
		p, ok := b.positions[symbol]
		if !ok {
			return false
		}
		found = true
		result = m.settle(b, p, exitPrice, reason)
		return true
	})
	if !found {
		return domain.TradeResult{}, fmt.Errorf("close %s: %w", symbol, domain.ErrPositionNotFound)
	}
	m.afterClose(ctx, result)
	return result, nil
}

// ManualClose closes at the last live price. Without one the request is
// refused and nothing changes.
func (m *PositionManager) ManualClose(ctx context.Context, symbol string) (domain.TradeResult, error) {
	if _, ok := m.ledger.Position(symbol); !ok {
		return domain.TradeResult{}, fmt.Errorf("close %s: %w", symbol, domain.ErrPositionNotFound)
	}
	price, ok := m.prices.LastPrice(symbol)
	if !ok || price <= 0 {
		return domain.TradeResult{}, fmt.Errorf("close %s: %w", symbol, domain.ErrNoLivePrice)
	}
	return m.Close(ctx, symbol, price, domain.ExitManual)
}

// Reset restores the initial balance and clears positions and history.
func (m *PositionManager) Reset(ctx context.Context) error {
	if err := m.ledger.reset(ctx); err != nil {
		return err
	}
	m.logger.Info("Account reset", zap.Float64("balance", m.ledger.InitialBalance()))
	m.observeLedger()
	return nil
}

// settle must be called under the ledger lock.
func (m *PositionManager) settle(b *ledgerBook, p domain.Position, exitPrice float64, reason domain.ExitReason) domain.TradeResult {
	s := Settle(p, exitPrice, m.cfg.FeeRate)
	b.balance = math.Max(0, b.balance+s.Returned)
	delete(b.positions, p.Symbol)

	outcome := domain.OutcomeLoss
	if s.NetPnL >= 0 {
		outcome = domain.OutcomeWin
	}
	r := domain.TradeResult{
		ID:         p.ID,
		Symbol:     p.Symbol,
		Side:       p.Side,
		EntryPrice: p.EntryPrice,
		ExitPrice:  exitPrice,
		Amount:     p.Amount,
		Leverage:   p.Leverage,
		Fees:       s.Fees,
		PnL:        s.NetPnL,
		Outcome:    outcome,
		ExitReason: reason,
		OpenedAt:   p.OpenedAt,
		ClosedAt:   m.timeNow(),
	}
	b.history = append(b.history, r)
	return r
}

func (m *PositionManager) afterClose(ctx context.Context, r domain.TradeResult) {
	m.logger.Info("Position closed",
		zap.String("symbol", r.Symbol),
		zap.String("side", string(r.Side)),
		zap.String("reason", string(r.ExitReason)),
		zap.Float64("price", r.ExitPrice),
		zap.Float64("pnl", r.PnL),
		zap.String("outcome", string(r.Outcome)))

	metrics.PositionsClosed.WithLabelValues(r.Symbol, string(r.ExitReason), string(r.Outcome)).Inc()
	metrics.RealizedPnL.Add(r.PnL)
	m.observeLedger()
	if m.publisher != nil {
		if err := m.publisher.PublishClosed(ctx, r); err != nil {
			m.logger.Warn("Failed to publish close event", zap.String("symbol", r.Symbol), zap.Error(err))
		}
	}
}

func (m *PositionManager) observeLedger() {
	metrics.Balance.Set(m.ledger.Balance())
	metrics.OpenPositions.Set(float64(len(m.ledger.Positions())))
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vitos/crypto_paper_agent/internal/domain"
	"go.uber.org/zap"
)

const DefaultInitialBalance = 100.0

const persistTimeout = 3 * time.Second

// ledgerBook is the mutable account state. It is only touched under
// PortfolioLedger.mu.
type ledgerBook struct {
	balance   float64
	positions map[string]domain.Position
	history   []domain.TradeResult
}

func (b *ledgerBook) snapshot() domain.LedgerState {
	positions := make(map[string]domain.Position, len(b.positions))
	for k, v := range b.positions {
		positions[k] = v
	}
	history := make([]domain.TradeResult, len(b.history))
	copy(history, b.history)
	return domain.LedgerState{Balance: b.balance, Positions: positions, History: history}
}

// PortfolioLedger is the single owner of balance, open positions and trade
// history. Readers get copies. Mutations go through PositionManager.
type PortfolioLedger struct {
	mu             sync.RWMutex
	book           ledgerBook
	version        uint64
	initialBalance float64

	repo       domain.StateRepository
	persistMu  sync.Mutex
	persistedV uint64

	logger *zap.Logger
}

func NewPortfolioLedger(repo domain.StateRepository, initialBalance float64, logger *zap.Logger) *PortfolioLedger {
	if initialBalance <= 0 {
		initialBalance = DefaultInitialBalance
	}
	return &PortfolioLedger{
		book: ledgerBook{
			balance:   initialBalance,
			positions: make(map[string]domain.Position),
		},
		initialBalance: initialBalance,
		repo:           repo,
		logger:         logger,
	}
}

// Load restores persisted state. Missing state leaves the initial balance.
func (l *PortfolioLedger) Load(ctx context.Context) error {
	if l.repo == nil {
		return nil
	}
	state, err := l.repo.Load(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load ledger: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.book.balance = state.Balance
	if l.book.balance < 0 {
		l.book.balance = 0
	}
	l.book.positions = make(map[string]domain.Position, len(state.Positions))
	for sym, p := range state.Positions {
		l.book.positions[sym] = p
	}
	l.book.history = append([]domain.TradeResult(nil), state.History...)
	l.version++

	l.logger.Info("Ledger restored",
		zap.Float64("balance", l.book.balance),
		zap.Int("positions", len(l.book.positions)),
		zap.Int("history", len(l.book.history)))
	return nil
}

func (l *PortfolioLedger) Balance() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.book.balance
}

func (l *PortfolioLedger) InitialBalance() float64 {
	return l.initialBalance
}

func (l *PortfolioLedger) Position(symbol string) (domain.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.book.positions[symbol]
	return p, ok
}

// Positions returns open positions ordered by open time.
func (l *PortfolioLedger) Positions() []domain.Position {
	l.mu.RLock()
	out := make([]domain.Position, 0, len(l.book.positions))
	for _, p := range l.book.positions {
		out = append(out, p)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

func (l *PortfolioLedger) History() []domain.TradeResult {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.TradeResult, len(l.book.history))
	copy(out, l.book.history)
	return out
}

// RecentHistory returns up to n of the latest trade results, oldest first.
func (l *PortfolioLedger) RecentHistory(n int) []domain.TradeResult {
	l.mu.RLock()
	defer l.mu.RUnlock()
	start := 0
	if n >= 0 && len(l.book.history) > n {
		start = len(l.book.history) - n
	}
	out := make([]domain.TradeResult, len(l.book.history)-start)
	copy(out, l.book.history[start:])
	return out
}

func (l *PortfolioLedger) Snapshot() domain.LedgerState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.book.snapshot()
}

// MarginInUse is the sum of initial margin over open positions.
func (l *PortfolioLedger) MarginInUse() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := 0.0
	for _, p := range l.book.positions {
		total += p.InitialMargin
	}
	return total
}

// Equity values open positions at the given prices. Positions without a price
// are valued at entry.
func (l *PortfolioLedger) Equity(priceOf func(symbol string) (float64, bool)) domain.Equity {
	l.mu.RLock()
	defer l.mu.RUnlock()

	eq := domain.Equity{Balance: l.book.balance, OpenPositions: len(l.book.positions)}
	for sym, p := range l.book.positions {
		eq.MarginInUse += p.InitialMargin
		if price, ok := priceOf(sym); ok && price > 0 {
			eq.UnrealizedPnL += p.FloatingPnL(price)
		}
	}
	for _, r := range l.book.history {
		eq.RealizedPnL += r.PnL
		if r.Outcome == domain.OutcomeWin {
			eq.Wins++
		} else {
			eq.Losses++
		}
	}
	if total := eq.Wins + eq.Losses; total > 0 {
		eq.WinRate = float64(eq.Wins) / float64(total) * 100
	}
	eq.Equity = eq.Balance + eq.MarginInUse + eq.UnrealizedPnL
	return eq
}

// mutate runs fn under the write lock. When fn reports a change the new state
// is persisted after the lock is released.
func (l *PortfolioLedger) mutate(ctx context.Context, fn func(b *ledgerBook) bool) {
	l.mu.Lock()
	changed := fn(&l.book)
	if l.book.balance < 0 {
		l.book.balance = 0
	}
	var (
		state   domain.LedgerState
		version uint64
	)
	if changed {
		l.version++
		version = l.version
		state = l.book.snapshot()
	}
	l.mu.Unlock()

	if changed {
		l.persist(ctx, state, version)
	}
}

// persist writes state unless a newer version has already been written.
// Failures are logged, the in-memory ledger stays authoritative.
func (l *PortfolioLedger) persist(ctx context.Context, state domain.LedgerState, version uint64) {
	if l.repo == nil {
		return
	}
	l.persistMu.Lock()
	defer l.persistMu.Unlock()
	if version <= l.persistedV {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := l.repo.Save(ctx, state); err != nil {
		l.logger.Error("Failed to persist ledger", zap.Error(err))
		return
	}
	l.persistedV = version
}

// reset restores the initial balance, drops positions and history and clears
// persisted state.
func (l *PortfolioLedger) reset(ctx context.Context) error {
	l.mu.Lock()
	l.book = ledgerBook{
		balance:   l.initialBalance,
		positions: make(map[string]domain.Position),
	}
	l.version++
	version := l.version
	l.mu.Unlock()

	if l.repo == nil {
		return nil
	}
	l.persistMu.Lock()
	defer l.persistMu.Unlock()
	if err := l.repo.Reset(ctx); err != nil {
		return fmt.Errorf("reset ledger: %w", err)
	}
	l.persistedV = version
	return nil
}

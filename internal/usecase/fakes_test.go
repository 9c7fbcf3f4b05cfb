package usecase

import (
	"context"
	"sync"

	"github.com/vitos/crypto_paper_agent/internal/domain"
)

type fakeStateRepo struct {
	mu         sync.Mutex
	state      *domain.LedgerState
	saves      int
	resets     int
	saveErr    error
	loadResult *domain.LedgerState
}

func (r *fakeStateRepo) Load(ctx context.Context) (*domain.LedgerState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadResult == nil {
		return nil, domain.ErrNotFound
	}
	return r.loadResult, nil
}

func (r *fakeStateRepo) Save(ctx context.Context, state domain.LedgerState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saves++
	r.state = &state
	return nil
}

func (r *fakeStateRepo) Reset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets++
	r.state = nil
	return nil
}

func (r *fakeStateRepo) last() *domain.LedgerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

type fakePublisher struct {
	mu     sync.Mutex
	opened []domain.Position
	closed []domain.TradeResult
}

func (p *fakePublisher) PublishOpened(ctx context.Context, pos domain.Position) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opened = append(p.opened, pos)
	return nil
}

func (p *fakePublisher) PublishClosed(ctx context.Context, r domain.TradeResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = append(p.closed, r)
	return nil
}

type fakePrices struct {
	mu     sync.Mutex
	prices map[string]float64
}

func newFakePrices() *fakePrices {
	return &fakePrices{prices: make(map[string]float64)}
}

func (f *fakePrices) set(symbol string, price float64) {
	f.mu.Lock()
	f.prices[symbol] = price
	f.mu.Unlock()
}

func (f *fakePrices) LastPrice(symbol string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[symbol]
	return p, ok
}

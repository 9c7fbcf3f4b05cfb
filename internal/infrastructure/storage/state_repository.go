package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/vitos/crypto_paper_agent/internal/domain"
)

// Persisted keys. All three are written together on every save.
const (
	KeyBalance   = "trade_balance"
	KeyPositions = "trade_positions"
	KeyHistory   = "trade_history"
)

// StateRepository persists the ledger in three keys of a KeyValueStore.
type StateRepository struct {
	store domain.KeyValueStore
}

var _ domain.StateRepository = (*StateRepository)(nil)

func NewStateRepository(store domain.KeyValueStore) *StateRepository {
	return &StateRepository{store: store}
}

// Load returns ErrNotFound when no balance has been saved yet. Missing
// positions or history load as empty.
func (r *StateRepository) Load(ctx context.Context) (*domain.LedgerState, error) {
	raw, err := r.store.Get(ctx, KeyBalance)
	if err != nil {
		return nil, err
	}
	balance, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", KeyBalance, err)
	}

	state := &domain.LedgerState{
		Balance:   balance,
		Positions: make(map[string]domain.Position),
	}

	var positions []domain.Position
	if err := r.getJSON(ctx, KeyPositions, &positions); err != nil {
		return nil, err
	}
	for _, p := range positions {
		state.Positions[p.Symbol] = p
	}

	if err := r.getJSON(ctx, KeyHistory, &state.History); err != nil {
		return nil, err
	}
	return state, nil
}

func (r *StateRepository) getJSON(ctx context.Context, key string, v any) error {
	raw, err := r.store.Get(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (r *StateRepository) Save(ctx context.Context, state domain.LedgerState) error {
	positions := make([]domain.Position, 0, len(state.Positions))
	for _, p := range state.Positions {
		positions = append(positions, p)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })

	history := state.History
	if history == nil {
		history = []domain.TradeResult{}
	}

	posJSON, err := json.Marshal(positions)
	if err != nil {
		return err
	}
	histJSON, err := json.Marshal(history)
	if err != nil {
		return err
	}

	err = r.store.SetMany(ctx, map[string]string{
		KeyBalance:   strconv.FormatFloat(state.Balance, 'f', -1, 64),
		KeyPositions: string(posJSON),
		KeyHistory:   string(histJSON),
	})
	if err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	return nil
}

func (r *StateRepository) Reset(ctx context.Context) error {
	return r.store.Delete(ctx, KeyBalance, KeyPositions, KeyHistory)
}

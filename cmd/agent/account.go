package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/vitos/crypto_paper_agent/internal/domain"
	"github.com/vitos/crypto_paper_agent/internal/infrastructure/storage"
	"github.com/vitos/crypto_paper_agent/internal/usecase"
	"go.uber.org/zap"
)

func resetAccount(ctx context.Context) error {
	store, err := storage.NewSQLStore(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("failed to init storage: %w", err)
	}
	defer store.Close()

	if err := storage.NewStateRepository(store).Reset(ctx); err != nil {
		return err
	}
	log.Info("Account reset", zap.Float64("balance", cfg.Risk.InitialBalance))
	return nil
}

type accountView struct {
	domain.LedgerState
	Equity domain.Equity `json:"equity"`
}

// printState values open positions at entry; no market data is fetched.
func printState(ctx context.Context, w io.Writer) error {
	store, err := storage.NewSQLStore(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("failed to init storage: %w", err)
	}
	defer store.Close()

	ledger := usecase.NewPortfolioLedger(storage.NewStateRepository(store), cfg.Risk.InitialBalance, log)
	if err := ledger.Load(ctx); err != nil {
		return err
	}
	noPrice := func(string) (float64, bool) { return 0, false }

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(accountView{LedgerState: ledger.Snapshot(), Equity: ledger.Equity(noPrice)})
}

package domain

import "context"

// MarketData is the market-data collaborator: bulk history plus live streams.
type MarketData interface {
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	OnTicker(callback func(t Ticker))
	OnCandle(callback func(symbol, interval string, c Candle))
	OnOrderBook(callback func(ob OrderBook))
	// WatchSymbol switches the ticker, candle and depth streams to symbol.
	WatchSymbol(symbol, interval string) error
	// WatchTickers streams tickers for all symbols, used for position monitoring.
	WatchTickers(symbols []string) error
	Close() error
}

// SignalRequest is the structured input handed to the signal generator.
type SignalRequest struct {
	Symbol   string                       `json:"symbol"`
	Frames   map[string]IndicatorSnapshot `json:"frames"`
	Balance  float64                      `json:"balance"`
	Position *Position                    `json:"position,omitempty"`
	History  []TradeResult                `json:"history,omitempty"`
}

type SignalGenerator interface {
	// GenerateSignal returns ErrSignalRateLimited when the provider throttles us.
	GenerateSignal(ctx context.Context, req SignalRequest) (*TradeDecision, error)
}

// KeyValueStore is a generic string store. Get returns ErrNotFound on a miss.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// SetMany writes every pair or none of them.
	SetMany(ctx context.Context, values map[string]string) error
	Delete(ctx context.Context, keys ...string) error
}

type StateRepository interface {
	Load(ctx context.Context) (*LedgerState, error)
	Save(ctx context.Context, state LedgerState) error
	Reset(ctx context.Context) error
}

type TradeEventPublisher interface {
	PublishOpened(ctx context.Context, p Position) error
	PublishClosed(ctx context.Context, r TradeResult) error
}

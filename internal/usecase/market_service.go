package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/vitos/crypto_paper_agent/internal/domain"
	"github.com/vitos/crypto_paper_agent/internal/infrastructure/metrics"
	"go.uber.org/zap"
)

const DefaultMaxCandles = 200

type candleKey struct {
	symbol   string
	interval string
}

// MarketService keeps the live read model fed by the market-data streams:
// bounded candle buffers, last prices, tickers and the order book of the
// focused symbol. It also fans ticks out to price listeners.
type MarketService struct {
	market     domain.MarketData
	candles    map[candleKey][]domain.Candle
	tickers    map[string]domain.Ticker
	prices     map[string]float64
	orderBook  domain.OrderBook
	focused    string
	maxCandles int
	listeners  []func(symbol string, price float64)
	mu         sync.Mutex
	logger     *zap.Logger
}

func NewMarketService(market domain.MarketData, maxCandles int, logger *zap.Logger) *MarketService {
	if maxCandles <= 0 {
		maxCandles = DefaultMaxCandles
	}
	s := &MarketService{
		market:     market,
		candles:    make(map[candleKey][]domain.Candle),
		tickers:    make(map[string]domain.Ticker),
		prices:     make(map[string]float64),
		maxCandles: maxCandles,
		logger:     logger,
	}

	market.OnTicker(s.handleTicker)
	market.OnCandle(s.handleCandle)
	market.OnOrderBook(s.handleOrderBook)

	return s
}

// OnPriceUpdate registers a listener for every ticker price, on any symbol.
func (s *MarketService) OnPriceUpdate(callback func(symbol string, price float64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, callback)
}

func (s *MarketService) handleTicker(t domain.Ticker) {
	if t.Price <= 0 {
		return
	}
	metrics.MarketEvents.WithLabelValues("ticker").Inc()

	s.mu.Lock()
	prev, ok := s.tickers[t.Symbol]
	// Partial tickers keep the previous high, low and volume.
	if ok && t.High == 0 && t.Low == 0 && t.Volume == 0 {
		t.High, t.Low, t.Volume = prev.High, prev.Low, prev.Volume
	}
	s.tickers[t.Symbol] = t
	s.prices[t.Symbol] = t.Price
	listeners := make([]func(string, float64), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, cb := range listeners {
		cb(t.Symbol, t.Price)
	}
}

func (s *MarketService) handleCandle(symbol, interval string, c domain.Candle) {
	metrics.MarketEvents.WithLabelValues("candle").Inc()

	s.mu.Lock()
	defer s.mu.Unlock()
	key := candleKey{symbol, interval}
	s.candles[key] = mergeCandle(s.candles[key], c, s.maxCandles)
}

func (s *MarketService) handleOrderBook(ob domain.OrderBook) {
	metrics.MarketEvents.WithLabelValues("depth").Inc()

	s.mu.Lock()
	defer s.mu.Unlock()
	if ob.Symbol != "" && ob.Symbol != s.focused {
		return
	}
	ob.Symbol = s.focused
	s.orderBook = ob
}

// mergeCandle updates the last candle when c is in the same bucket, appends it
// when it opens a new bucket and drops the oldest beyond max. Out-of-order
// candles older than the last bucket are ignored.
func mergeCandle(buf []domain.Candle, c domain.Candle, max int) []domain.Candle {
	if n := len(buf); n > 0 {
		last := buf[n-1]
		if last.Time == c.Time {
			buf[n-1] = c
			return buf
		}
		if c.Time < last.Time {
			return buf
		}
	}
	buf = append(buf, c)
	if len(buf) > max {
		buf = append([]domain.Candle(nil), buf[len(buf)-max:]...)
	}
	return buf
}

// Focus switches the live candle and depth streams to symbol and clears the
// previous order book and the symbol's stale candle buffer.
func (s *MarketService) Focus(symbol, interval string) error {
	s.mu.Lock()
	s.focused = symbol
	s.orderBook = domain.OrderBook{Symbol: symbol}
	delete(s.candles, candleKey{symbol, interval})
	s.mu.Unlock()

	if err := s.market.WatchSymbol(symbol, interval); err != nil {
		return fmt.Errorf("watch %s: %w", symbol, err)
	}
	return nil
}

// WatchAll subscribes to tickers of every symbol for position monitoring.
func (s *MarketService) WatchAll(symbols []string) error {
	if err := s.market.WatchTickers(symbols); err != nil {
		return fmt.Errorf("watch tickers: %w", err)
	}
	return nil
}

// LoadHistory fetches history and replaces the buffer for symbol/interval.
// Stream candles newer than the fetched history are kept.
func (s *MarketService) LoadHistory(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	history, err := s.market.GetCandles(ctx, symbol, interval, limit)
	if err != nil {
		return nil, fmt.Errorf("load history %s %s: %w", symbol, interval, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := candleKey{symbol, interval}
	live := s.candles[key]
	buf := make([]domain.Candle, 0, len(history)+len(live))
	for _, c := range history {
		buf = mergeCandle(buf, c, s.maxCandles)
	}
	for _, c := range live {
		buf = mergeCandle(buf, c, s.maxCandles)
	}
	s.candles[key] = buf
	s.logger.Debug("History loaded",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Int("candles", len(buf)))

	out := make([]domain.Candle, len(buf))
	copy(out, buf)
	return out, nil
}

// FetchCandles reads history without touching the live buffers.
func (s *MarketService) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	candles, err := s.market.GetCandles(ctx, symbol, interval, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s: %w", symbol, interval, err)
	}
	return candles, nil
}

func (s *MarketService) Candles(symbol, interval string) []domain.Candle {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := s.candles[candleKey{symbol, interval}]
	out := make([]domain.Candle, len(buf))
	copy(out, buf)
	return out
}

// LastPrice is the last ticker price seen for symbol.
func (s *MarketService) LastPrice(symbol string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prices[symbol]
	return p, ok
}

func (s *MarketService) Ticker(symbol string) (domain.Ticker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickers[symbol]
	return t, ok
}

func (s *MarketService) OrderBook() domain.OrderBook {
	s.mu.Lock()
	defer s.mu.Unlock()
	ob := s.orderBook
	ob.Bids = append([]domain.OrderBookEntry(nil), ob.Bids...)
	ob.Asks = append([]domain.OrderBookEntry(nil), ob.Asks...)
	return ob
}

func (s *MarketService) Close() error {
	return s.market.Close()
}

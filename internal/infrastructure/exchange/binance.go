package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vitos/crypto_paper_agent/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	BinanceBaseURL = "https://api.binance.com"
	BinanceWSURL   = "wss://stream.binance.com:9443"

	minReconnectDelay = time.Second
	maxReconnectDelay = 30 * time.Second
)

var _ domain.MarketData = (*BinanceAdapter)(nil)

// BinanceAdapter reads public market data: REST klines and websocket streams
// for tickers, klines and partial depth. It never places orders.
type BinanceAdapter struct {
	baseURL string
	wsURL   string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger

	mu              sync.Mutex
	tickerCallbacks []func(domain.Ticker)
	candleCallbacks []func(symbol, interval string, c domain.Candle)
	bookCallbacks   []func(domain.OrderBook)
	symbolStream    *stream
	tickerStream    *stream
	closed          bool
}

func NewBinanceAdapter(baseURL, wsURL string, requestsPerSecond float64, logger *zap.Logger) *BinanceAdapter {
	if baseURL == "" {
		baseURL = BinanceBaseURL
	}
	if wsURL == "" {
		wsURL = BinanceWSURL
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 10
	}
	return &BinanceAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		wsURL:   strings.TrimRight(wsURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 5),
		logger:  logger,
	}
}

// --- REST API ---

func (b *BinanceAdapter) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("binance api error: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// GetCandles returns up to limit klines, oldest first, with open times in
// milliseconds.
func (b *BinanceAdapter) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))

	body, err := b.get(ctx, "/api/v3/klines", q)
	if err != nil {
		return nil, fmt.Errorf("klines %s %s: %w", symbol, interval, err)
	}

	// Format: [openTime, open, high, low, close, volume, closeTime, ...]
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	candles := make([]domain.Candle, 0, len(rows))
	for _, raw := range rows {
		if len(raw) < 6 {
			continue
		}
		var ts int64
		if err := json.Unmarshal(raw[0], &ts); err != nil {
			continue
		}
		candles = append(candles, domain.Candle{
			Time:   ts,
			Open:   rawFloat(raw[1]),
			High:   rawFloat(raw[2]),
			Low:    rawFloat(raw[3]),
			Close:  rawFloat(raw[4]),
			Volume: rawFloat(raw[5]),
		})
	}
	return candles, nil
}

// rawFloat reads a price that Binance encodes as a quoted decimal string.
func rawFloat(raw json.RawMessage) float64 {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		f, _ := strconv.ParseFloat(s, 64)
		return f
	}
	var f float64
	_ = json.Unmarshal(raw, &f)
	return f
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// --- WebSocket ---

func (b *BinanceAdapter) OnTicker(callback func(domain.Ticker)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tickerCallbacks = append(b.tickerCallbacks, callback)
}

func (b *BinanceAdapter) OnCandle(callback func(symbol, interval string, c domain.Candle)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.candleCallbacks = append(b.candleCallbacks, callback)
}

func (b *BinanceAdapter) OnOrderBook(callback func(domain.OrderBook)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bookCallbacks = append(b.bookCallbacks, callback)
}

// WatchSymbol replaces the focused-symbol connection with one carrying the
// symbol's ticker, kline and top-10 depth streams.
func (b *BinanceAdapter) WatchSymbol(symbol, interval string) error {
	s := strings.ToLower(symbol)
	streams := []string{s + "@ticker", s + "@kline_" + interval, s + "@depth10@100ms"}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("watch %s: adapter closed", symbol)
	}
	if b.symbolStream != nil {
		b.symbolStream.stop()
	}
	b.symbolStream = b.startStream(streams)
	return nil
}

// WatchTickers replaces the cross-asset connection used for position
// monitoring with a combined mini-ticker stream.
func (b *BinanceAdapter) WatchTickers(symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	streams := make([]string, len(symbols))
	for i, s := range symbols {
		streams[i] = strings.ToLower(s) + "@miniTicker"
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("watch tickers: adapter closed")
	}
	if b.tickerStream != nil {
		b.tickerStream.stop()
	}
	b.tickerStream = b.startStream(streams)
	return nil
}

func (b *BinanceAdapter) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.symbolStream != nil {
		b.symbolStream.stop()
		b.symbolStream = nil
	}
	if b.tickerStream != nil {
		b.tickerStream.stop()
		b.tickerStream = nil
	}
	return nil
}

type stream struct {
	url  string
	done chan struct{}
	once sync.Once
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *stream) stop() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.mu.Unlock()
	})
}

func (s *stream) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (b *BinanceAdapter) startStream(names []string) *stream {
	st := &stream{
		url:  b.wsURL + "/stream?streams=" + strings.Join(names, "/"),
		done: make(chan struct{}),
	}
	go b.run(st)
	return st
}

// run keeps the connection alive until stop, reconnecting with backoff.
func (b *BinanceAdapter) run(st *stream) {
	delay := minReconnectDelay
	for !st.stopped() {
		c, _, err := websocket.DefaultDialer.Dial(st.url, nil)
		if err != nil {
			b.logger.Warn("WS dial failed", zap.String("url", st.url), zap.Error(err), zap.Duration("retry_in", delay))
			select {
			case <-st.done:
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, maxReconnectDelay)
			continue
		}

		st.mu.Lock()
		if st.stopped() {
			st.mu.Unlock()
			c.Close()
			return
		}
		st.conn = c
		st.mu.Unlock()
		delay = minReconnectDelay

		b.readLoop(c)

		st.mu.Lock()
		st.conn = nil
		st.mu.Unlock()
		c.Close()

		select {
		case <-st.done:
			return
		case <-time.After(delay):
		}
	}
}

func (b *BinanceAdapter) readLoop(c *websocket.Conn) {
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			b.logger.Debug("WS read stopped", zap.Error(err))
			return
		}
		if err := b.handleMessage(message); err != nil {
			b.logger.Debug("WS message skipped", zap.Error(err))
		}
	}
}

type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type tickerEvent struct {
	Symbol        string `json:"s"`
	Close         string `json:"c"`
	Open          string `json:"o"`
	ChangePercent string `json:"P"`
	High          string `json:"h"`
	Low           string `json:"l"`
	Volume        string `json:"v"`
}

type klineEvent struct {
	Symbol string `json:"s"`
	Kline  struct {
		StartTime int64  `json:"t"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Close     string `json:"c"`
		Volume    string `json:"v"`
	} `json:"k"`
}

type depthEvent struct {
	Bids [][]string `json:"bids"`
	Asks [][]string `json:"asks"`
}

// handleMessage routes a combined-stream frame by its stream name.
func (b *BinanceAdapter) handleMessage(message []byte) error {
	var env streamEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if env.Stream == "" || len(env.Data) == 0 {
		return nil
	}
	symbol := strings.ToUpper(env.Stream[:strings.Index(env.Stream+"@", "@")])

	switch {
	case strings.Contains(env.Stream, "@kline_"):
		var ev klineEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return fmt.Errorf("decode kline: %w", err)
		}
		c := domain.Candle{
			Time:   ev.Kline.StartTime,
			Open:   parseFloat(ev.Kline.Open),
			High:   parseFloat(ev.Kline.High),
			Low:    parseFloat(ev.Kline.Low),
			Close:  parseFloat(ev.Kline.Close),
			Volume: parseFloat(ev.Kline.Volume),
		}
		b.mu.Lock()
		callbacks := make([]func(string, string, domain.Candle), len(b.candleCallbacks))
		copy(callbacks, b.candleCallbacks)
		b.mu.Unlock()
		for _, cb := range callbacks {
			cb(symbol, ev.Kline.Interval, c)
		}

	case strings.Contains(env.Stream, "@depth"):
		var ev depthEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return fmt.Errorf("decode depth: %w", err)
		}
		ob := domain.OrderBook{Symbol: symbol, Bids: depthLevels(ev.Bids), Asks: depthLevels(ev.Asks)}
		b.mu.Lock()
		callbacks := make([]func(domain.OrderBook), len(b.bookCallbacks))
		copy(callbacks, b.bookCallbacks)
		b.mu.Unlock()
		for _, cb := range callbacks {
			cb(ob)
		}

	case strings.HasSuffix(env.Stream, "@ticker"), strings.HasSuffix(env.Stream, "@miniTicker"):
		var ev tickerEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return fmt.Errorf("decode ticker: %w", err)
		}
		t := domain.Ticker{
			Symbol:        symbol,
			Price:         parseFloat(ev.Close),
			ChangePercent: parseFloat(ev.ChangePercent),
			High:          parseFloat(ev.High),
			Low:           parseFloat(ev.Low),
			Volume:        parseFloat(ev.Volume),
		}
		// Mini tickers carry the open instead of the change percent.
		if ev.ChangePercent == "" {
			if open := parseFloat(ev.Open); open > 0 {
				t.ChangePercent = (t.Price - open) / open * 100
			}
		}
		b.mu.Lock()
		callbacks := make([]func(domain.Ticker), len(b.tickerCallbacks))
		copy(callbacks, b.tickerCallbacks)
		b.mu.Unlock()
		for _, cb := range callbacks {
			cb(t)
		}
	}
	return nil
}

func depthLevels(raw [][]string) []domain.OrderBookEntry {
	out := make([]domain.OrderBookEntry, 0, len(raw))
	for _, lvl := range raw {
		if len(lvl) < 2 {
			continue
		}
		out = append(out, domain.OrderBookEntry{Price: parseFloat(lvl[0]), Amount: parseFloat(lvl[1])})
	}
	return out
}

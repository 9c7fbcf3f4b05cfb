package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_paper_agent/internal/domain"
	"github.com/vitos/crypto_paper_agent/internal/usecase"
	"go.uber.org/zap"
)

type stubMarketData struct {
	onTicker func(domain.Ticker)
	onBook   func(domain.OrderBook)
}

func (m *stubMarketData) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	out := make([]domain.Candle, 100)
	for i := range out {
		c := 100 + float64(i)
		out[i] = domain.Candle{Time: int64(i) * 60_000, Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1}
	}
	return out, nil
}

func (m *stubMarketData) OnTicker(cb func(domain.Ticker))                 { m.onTicker = cb }
func (m *stubMarketData) OnCandle(cb func(string, string, domain.Candle)) {}
func (m *stubMarketData) OnOrderBook(cb func(domain.OrderBook))           { m.onBook = cb }
func (m *stubMarketData) WatchSymbol(symbol, interval string) error       { return nil }
func (m *stubMarketData) WatchTickers(symbols []string) error             { return nil }
func (m *stubMarketData) Close() error                                    { return nil }

type stubSignals struct{}

func (stubSignals) GenerateSignal(ctx context.Context, req domain.SignalRequest) (*domain.TradeDecision, error) {
	return &domain.TradeDecision{Action: domain.ActionWait, Confidence: 30, Leverage: 1, Reasoning: "flat"}, nil
}

type testEnv struct {
	server    *Server
	data      *stubMarketData
	positions *usecase.PositionManager
	scheduler *usecase.ScanScheduler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	data := &stubMarketData{}
	market := usecase.NewMarketService(data, usecase.DefaultMaxCandles, logger)
	ledger := usecase.NewPortfolioLedger(nil, usecase.DefaultInitialBalance, logger)
	positions := usecase.NewPositionManager(ledger, usecase.DefaultRiskConfig(), market, nil, logger)

	cfg := usecase.DefaultSchedulerConfig()
	cfg.Assets = []string{"BTCUSDT", "ETHUSDT"}
	scheduler := usecase.NewScanScheduler(cfg, market, usecase.NewIndicatorEngine(1.5),
		usecase.NewSignalGate(usecase.DefaultGateConfig()), positions, stubSignals{}, logger)
	require.NoError(t, scheduler.Start(context.Background(), false))
	t.Cleanup(scheduler.Stop)

	return &testEnv{
		server:    NewServer(0, scheduler, positions, market, logger),
		data:      data,
		positions: positions,
		scheduler: scheduler,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) openLong(t *testing.T, symbol string, price float64) {
	t.Helper()
	_, err := e.positions.Open(context.Background(), symbol, usecase.ValidatedOrder{
		Side:           domain.SideLong,
		Leverage:       5,
		StopLoss:       price * 0.9,
		TakeProfit:     price * 1.2,
		ExecutionPrice: price,
	})
	require.NoError(t, err)
}

func TestServer_State(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var st usecase.EngineState
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	assert.Equal(t, "BTCUSDT", st.ActiveSymbol)
	assert.False(t, st.AutoMode)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, st.Assets)
}

func TestServer_SelectSymbol(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/symbol", `{"symbol":"ethusdt"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ETHUSDT", env.scheduler.State().ActiveSymbol)

	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"missing symbol", `{}`},
		{"unknown symbol", `{"symbol":"XYZUSDT"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/symbol", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestServer_AutoMode(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/auto", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.scheduler.State().AutoMode)

	rec = env.do(t, http.MethodPost, "/api/auto", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, env.scheduler.State().AutoMode)
}

func TestServer_ManualScan(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/scan", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var st usecase.EngineState
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	require.NotNil(t, st.Signal)
	assert.False(t, st.ExecutionLocked)
	assert.Empty(t, env.positions.Ledger().Positions())
}

func TestServer_PortfolioAndClose(t *testing.T) {
	env := newTestEnv(t)
	env.openLong(t, "BTCUSDT", 100)

	// No tick seen yet
	rec := env.do(t, http.MethodPost, "/api/positions/btcusdt/close", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	env.data.onTicker(domain.Ticker{Symbol: "BTCUSDT", Price: 110})

	rec = env.do(t, http.MethodGet, "/api/portfolio", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var portfolio portfolioResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&portfolio))
	require.Len(t, portfolio.Positions, 1)
	assert.Equal(t, 110.0, portfolio.Positions[0].MarkPrice)
	assert.Greater(t, portfolio.Positions[0].FloatingPnL, 0.0)
	assert.Equal(t, 1, portfolio.Equity.OpenPositions)

	rec = env.do(t, http.MethodPost, "/api/positions/BTCUSDT/close", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var result domain.TradeResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.Equal(t, domain.ExitManual, result.ExitReason)
	assert.Equal(t, 110.0, result.ExitPrice)

	rec = env.do(t, http.MethodPost, "/api/positions/BTCUSDT/close", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var history []domain.TradeResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&history))
	assert.Len(t, history, 1)
}

func TestServer_Reset(t *testing.T) {
	env := newTestEnv(t)
	env.openLong(t, "ETHUSDT", 50)

	rec := env.do(t, http.MethodPost, "/api/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var equity domain.Equity
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&equity))
	assert.Equal(t, usecase.DefaultInitialBalance, equity.Balance)
	assert.Zero(t, equity.OpenPositions)
}

func TestServer_MarketReadModel(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/candles", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var candles []domain.Candle
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&candles))
	assert.NotEmpty(t, candles)

	rec = env.do(t, http.MethodGet, "/api/candles?symbol=SOLUSDT&interval=5m", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/ticker?symbol=ETHUSDT", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env.data.onTicker(domain.Ticker{Symbol: "ETHUSDT", Price: 3000, ChangePercent: 1.5})
	rec = env.do(t, http.MethodGet, "/api/ticker?symbol=ethusdt", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ticker domain.Ticker
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&ticker))
	assert.Equal(t, 3000.0, ticker.Price)

	env.data.onBook(domain.OrderBook{Bids: []domain.OrderBookEntry{{Price: 99, Amount: 2}}})
	rec = env.do(t, http.MethodGet, "/api/orderbook", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var book domain.OrderBook
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&book))
	assert.Equal(t, "BTCUSDT", book.Symbol)
	require.Len(t, book.Bids, 1)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	rec = env.do(t, http.MethodGet, "/api/scan", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_paper_agent/internal/domain"
	"go.uber.org/zap"
)

func TestBinanceAdapter_GetCandles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "5m", r.URL.Query().Get("interval"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		w.Write([]byte(`[
			[1700000000000,"100.5","101.0","99.5","100.8","12.3",1700000299999,"0",10,"0","0","0"],
			[1700000300000,"100.8","102.0","100.1","101.9","8.1",1700000599999,"0",7,"0","0","0"]
		]`))
	}))
	defer srv.Close()

	b := NewBinanceAdapter(srv.URL, "", 100, zap.NewNop())
	candles, err := b.GetCandles(context.Background(), "btcusdt", domain.Interval5m, 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, domain.Candle{Time: 1700000000000, Open: 100.5, High: 101, Low: 99.5, Close: 100.8, Volume: 12.3}, candles[0])
	assert.Equal(t, 101.9, candles[1].Close)
}

func TestBinanceAdapter_GetCandlesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":-1121,"msg":"Invalid symbol."}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	b := NewBinanceAdapter(srv.URL, "", 100, zap.NewNop())
	_, err := b.GetCandles(context.Background(), "NOPE", domain.Interval1m, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid symbol")
}

func TestBinanceAdapter_HandleMessage(t *testing.T) {
	b := NewBinanceAdapter("", "", 0, zap.NewNop())

	var (
		tickers []domain.Ticker
		candles []domain.Candle
		books   []domain.OrderBook
		ivs     []string
	)
	b.OnTicker(func(tk domain.Ticker) { tickers = append(tickers, tk) })
	b.OnCandle(func(symbol, interval string, c domain.Candle) {
		ivs = append(ivs, symbol+"/"+interval)
		candles = append(candles, c)
	})
	b.OnOrderBook(func(ob domain.OrderBook) { books = append(books, ob) })

	msgs := []string{
		`{"stream":"btcusdt@ticker","data":{"e":"24hrTicker","s":"BTCUSDT","c":"65000.10","P":"2.50","h":"66000","l":"63000","v":"1234.5"}}`,
		`{"stream":"ethusdt@miniTicker","data":{"e":"24hrMiniTicker","s":"ETHUSDT","c":"2100","o":"2000","h":"2150","l":"1990","v":"99"}}`,
		`{"stream":"btcusdt@kline_1m","data":{"e":"kline","s":"BTCUSDT","k":{"t":1700000000000,"i":"1m","o":"1","h":"2","l":"0.5","c":"1.5","v":"10","x":false}}}`,
		`{"stream":"btcusdt@depth10@100ms","data":{"lastUpdateId":1,"bids":[["64999.9","0.5"],["64999.8","1.2"]],"asks":[["65000.1","0.3"]]}}`,
		`{"result":null,"id":1}`,
	}
	for _, m := range msgs {
		require.NoError(t, b.handleMessage([]byte(m)))
	}
	assert.Error(t, b.handleMessage([]byte("not json")))

	require.Len(t, tickers, 2)
	assert.Equal(t, domain.Ticker{Symbol: "BTCUSDT", Price: 65000.10, ChangePercent: 2.5, High: 66000, Low: 63000, Volume: 1234.5}, tickers[0])
	assert.Equal(t, "ETHUSDT", tickers[1].Symbol)
	assert.InDelta(t, 5.0, tickers[1].ChangePercent, 1e-9)

	require.Len(t, candles, 1)
	assert.Equal(t, []string{"BTCUSDT/1m"}, ivs)
	assert.Equal(t, 1.5, candles[0].Close)

	require.Len(t, books, 1)
	assert.Equal(t, "BTCUSDT", books[0].Symbol)
	assert.Len(t, books[0].Bids, 2)
	assert.Equal(t, domain.OrderBookEntry{Price: 65000.1, Amount: 0.3}, books[0].Asks[0])
}

func TestBinanceAdapter_WatchSymbolStreams(t *testing.T) {
	upgrader := websocket.Upgrader{}
	paths := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.RawQuery
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		_ = c.WriteMessage(websocket.TextMessage,
			[]byte(`{"stream":"solusdt@ticker","data":{"s":"SOLUSDT","c":"150.25","P":"1.0","h":"155","l":"140","v":"5"}}`))
		// Hold the connection until the client goes away
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	b := NewBinanceAdapter(srv.URL, wsURL, 0, zap.NewNop())
	got := make(chan domain.Ticker, 1)
	b.OnTicker(func(tk domain.Ticker) {
		select {
		case got <- tk:
		default:
		}
	})

	require.NoError(t, b.WatchSymbol("SOLUSDT", domain.Interval1m))

	select {
	case q := <-paths:
		assert.Equal(t, "streams=solusdt@ticker/solusdt@kline_1m/solusdt@depth10@100ms", q)
	case <-time.After(2 * time.Second):
		t.Fatal("Expected a websocket connection")
	}
	select {
	case tk := <-got:
		assert.Equal(t, "SOLUSDT", tk.Symbol)
		assert.Equal(t, 150.25, tk.Price)
	case <-time.After(2 * time.Second):
		t.Fatal("Expected a ticker from the stream")
	}

	require.NoError(t, b.Close())
	assert.Error(t, b.WatchSymbol("BTCUSDT", domain.Interval1m))
	assert.Error(t, b.WatchTickers([]string{"BTCUSDT"}))
}

package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_paper_agent/internal/domain"
	"go.uber.org/zap"
)

func TestMergeCandle(t *testing.T) {
	buf := []domain.Candle{{Time: 1, Close: 10}, {Time: 2, Close: 11}}

	// Same bucket updates in place
	buf = mergeCandle(buf, domain.Candle{Time: 2, Close: 12}, 3)
	require.Len(t, buf, 2)
	assert.Equal(t, 12.0, buf[1].Close)

	// Older candles are ignored
	buf = mergeCandle(buf, domain.Candle{Time: 1, Close: 99}, 3)
	assert.Equal(t, 10.0, buf[0].Close)

	// New buckets append and the oldest is trimmed
	buf = mergeCandle(buf, domain.Candle{Time: 3, Close: 13}, 3)
	buf = mergeCandle(buf, domain.Candle{Time: 4, Close: 14}, 3)
	require.Len(t, buf, 3)
	assert.Equal(t, int64(2), buf[0].Time)
	assert.Equal(t, int64(4), buf[2].Time)
}

func TestMarketService_LoadHistoryKeepsNewerStreamCandles(t *testing.T) {
	md := newFakeMarketData()
	md.set("BTCUSDT", domain.Interval1m, trendingCandles(5, 100, 1))
	svc := NewMarketService(md, 10, zap.NewNop())

	// A stream candle arrives before history is loaded
	md.onCandle("BTCUSDT", domain.Interval1m, domain.Candle{Time: 5 * 60_000, Close: 200})
	md.onCandle("BTCUSDT", domain.Interval1m, domain.Candle{Time: 5 * 60_000, Close: 210})

	candles, err := svc.LoadHistory(context.Background(), "BTCUSDT", domain.Interval1m, 5)
	require.NoError(t, err)
	require.Len(t, candles, 6)
	assert.Equal(t, 104.0, candles[4].Close)
	assert.Equal(t, 210.0, candles[5].Close)
	assert.Equal(t, candles, svc.Candles("BTCUSDT", domain.Interval1m))

	md.failFor["BTCUSDT"] = true
	_, err = svc.LoadHistory(context.Background(), "BTCUSDT", domain.Interval1m, 5)
	assert.Error(t, err)
}

func TestMarketService_TickerFanOut(t *testing.T) {
	md := newFakeMarketData()
	svc := NewMarketService(md, 0, zap.NewNop())

	var got []float64
	svc.OnPriceUpdate(func(symbol string, price float64) {
		got = append(got, price)
	})

	md.onTicker(domain.Ticker{Symbol: "ETHUSDT", Price: 2000, High: 2100, Low: 1900, Volume: 5})
	md.onTicker(domain.Ticker{Symbol: "ETHUSDT", Price: 2010, ChangePercent: 1.2})
	md.onTicker(domain.Ticker{Symbol: "ETHUSDT", Price: 0})

	assert.Equal(t, []float64{2000, 2010}, got)
	p, ok := svc.LastPrice("ETHUSDT")
	assert.True(t, ok)
	assert.Equal(t, 2010.0, p)

	// The combined stream lacks high/low/volume; the previous values stay
	tk, ok := svc.Ticker("ETHUSDT")
	require.True(t, ok)
	assert.Equal(t, 2100.0, tk.High)
	assert.Equal(t, 5.0, tk.Volume)
	assert.Equal(t, 1.2, tk.ChangePercent)

	_, ok = svc.LastPrice("SOLUSDT")
	assert.False(t, ok)
}

func TestMarketService_OrderBookFollowsFocus(t *testing.T) {
	md := newFakeMarketData()
	svc := NewMarketService(md, 0, zap.NewNop())
	require.NoError(t, svc.Focus("BTCUSDT", domain.Interval1m))
	assert.Equal(t, []string{"BTCUSDT"}, md.watched)

	md.onBook(domain.OrderBook{Symbol: "BTCUSDT", Bids: []domain.OrderBookEntry{{Price: 99, Amount: 1}}})
	md.onBook(domain.OrderBook{Symbol: "ETHUSDT", Bids: []domain.OrderBookEntry{{Price: 5, Amount: 1}}})

	ob := svc.OrderBook()
	assert.Equal(t, "BTCUSDT", ob.Symbol)
	require.Len(t, ob.Bids, 1)
	assert.Equal(t, 99.0, ob.Bids[0].Price)

	// Switching focus clears the book
	require.NoError(t, svc.Focus("ETHUSDT", domain.Interval1m))
	ob = svc.OrderBook()
	assert.Equal(t, "ETHUSDT", ob.Symbol)
	assert.Empty(t, ob.Bids)
}

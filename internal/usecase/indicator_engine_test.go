package usecase_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_paper_agent/internal/domain"
	"github.com/vitos/crypto_paper_agent/internal/usecase"
)

func candlesFromCloses(closes ...float64) []domain.Candle {
	out := make([]domain.Candle, len(closes))
	for i, c := range closes {
		out[i] = domain.Candle{
			Time:   int64(i) * 60_000,
			Open:   c,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: 10,
		}
	}
	return out
}

func rampCandles(n int, start, step float64) []domain.Candle {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = start + float64(i)*step
	}
	return candlesFromCloses(closes...)
}

func wavyCandles(n int) []domain.Candle {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + 5*math.Sin(float64(i)/3) + float64(i%7)*0.3
	}
	return candlesFromCloses(closes...)
}

func TestIndicators_ShortWindowsAreUnavailable(t *testing.T) {
	short := rampCandles(10, 100, 1)

	for i, v := range usecase.SMA(short, 20) {
		assert.Truef(t, math.IsNaN(v), "SMA[%d] should be NaN", i)
	}
	for i, v := range usecase.RSI(short, 14) {
		assert.Truef(t, math.IsNaN(v), "RSI[%d] should be NaN", i)
	}
	for i, b := range usecase.BollingerBands(short, 20, 2) {
		assert.Truef(t, math.IsNaN(b.Middle), "BB[%d] should be NaN", i)
	}
	for i, v := range usecase.ATR(short, 14) {
		assert.Truef(t, math.IsNaN(v), "ATR[%d] should be NaN", i)
	}
	assert.True(t, math.IsNaN(usecase.RegimeScore(short)))

	// RSI needs period+1 closes for its first value
	exact := rampCandles(15, 100, 1)
	rsi := usecase.RSI(exact, 14)
	assert.True(t, math.IsNaN(rsi[13]))
	assert.False(t, math.IsNaN(rsi[14]))
}

func TestSMA(t *testing.T) {
	sma := usecase.SMA(candlesFromCloses(1, 2, 3, 4, 5), 3)
	assert.True(t, math.IsNaN(sma[1]))
	assert.InDelta(t, 2.0, sma[2], 1e-9)
	assert.InDelta(t, 3.0, sma[3], 1e-9)
	assert.InDelta(t, 4.0, sma[4], 1e-9)
}

func TestRSI_Bounds(t *testing.T) {
	tests := []struct {
		name    string
		candles []domain.Candle
	}{
		{"rising", rampCandles(60, 100, 0.5)},
		{"falling", rampCandles(60, 200, -1.5)},
		{"wavy", wavyCandles(120)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i, v := range usecase.RSI(tt.candles, 14) {
				if math.IsNaN(v) {
					continue
				}
				if v < 0 || v > 100 {
					t.Errorf("RSI[%d] = %f out of [0,100]", i, v)
				}
			}
		})
	}
}

func TestRSI_Extremes(t *testing.T) {
	up := usecase.RSI(rampCandles(30, 100, 1), 14)
	assert.Equal(t, 100.0, up[29])

	down := usecase.RSI(rampCandles(30, 100, -1), 14)
	assert.InDelta(t, 0.0, down[29], 1e-9)
}

func TestBollingerBands_Ordering(t *testing.T) {
	for i, b := range usecase.BollingerBands(wavyCandles(80), 20, 2) {
		if math.IsNaN(b.Middle) {
			continue
		}
		if !(b.Upper >= b.Middle && b.Middle >= b.Lower) {
			t.Errorf("bands out of order at %d: %+v", i, b)
		}
	}

	flat := usecase.BollingerBands(candlesFromCloses(repeat(50, 25)...), 20, 2)
	last := flat[len(flat)-1]
	assert.Equal(t, 50.0, last.Upper)
	assert.Equal(t, 50.0, last.Lower)
	assert.Equal(t, 0.0, last.WidthPct())
}

func TestATR(t *testing.T) {
	candles := wavyCandles(60)
	atr := usecase.ATR(candles, 14)

	assert.True(t, math.IsNaN(atr[12]))
	for i := 13; i < len(atr); i++ {
		if atr[i] < 0 {
			t.Errorf("ATR[%d] negative: %f", i, atr[i])
		}
	}

	// high-low is 2 on every bar of a flat series
	flat := usecase.ATR(candlesFromCloses(repeat(10, 20)...), 14)
	assert.InDelta(t, 2.0, flat[19], 1e-9)
}

func TestKalmanFilter(t *testing.T) {
	kf := usecase.NewKalmanFilter(0.1, 0.1)
	_, ok := kf.Estimate()
	assert.False(t, ok)

	// First observation initialises the estimate
	assert.Equal(t, 120.0, kf.Filter(120))

	for i := 0; i < 200; i++ {
		kf.Filter(100)
	}
	assert.InDelta(t, 100.0, kf.Filter(100), 1e-9)

	// Constant input from the start never moves
	constant := usecase.ApplyKalman(candlesFromCloses(repeat(42, 50)...), 0.1, 0.1)
	for i, v := range constant {
		if v != 42 {
			t.Errorf("filtered[%d] = %f, expected 42", i, v)
		}
	}
}

func TestRegimeScore(t *testing.T) {
	tests := []struct {
		name     string
		candles  []domain.Candle
		expected float64
	}{
		{"straight line is fully efficient", rampCandles(40, 100, 1), 0.9},
		{"flat path", candlesFromCloses(repeat(100, 40)...), 0.4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, usecase.RegimeScore(tt.candles), 1e-9)
		})
	}

	zigzag := make([]float64, 40)
	for i := range zigzag {
		zigzag[i] = 100 + float64(i%2)
	}
	score := usecase.RegimeScore(candlesFromCloses(zigzag...))
	assert.Less(t, score, domain.RegimeTrendThreshold)
}

func TestKellyFraction(t *testing.T) {
	tests := []struct {
		p, b     float64
		expected float64
	}{
		{0.6, 1.5, 0.6 - 0.4/1.5},
		{0.4, 1.5, 0},
		{0.2, 1.0, 0},
		{0.9, 0, 0},
		{1.0, 2.0, 1.0},
	}

	for _, tt := range tests {
		got := usecase.KellyFraction(tt.p, tt.b)
		if got < 0 {
			t.Errorf("Kelly(%v,%v) negative: %f", tt.p, tt.b, got)
		}
		assert.InDelta(t, tt.expected, got, 1e-9)
	}
}

func TestIndicatorEngine_Snapshot(t *testing.T) {
	engine := usecase.NewIndicatorEngine(1.5)

	_, err := engine.Snapshot("BTCUSDT", domain.Interval1m, rampCandles(usecase.MinSnapshotBars-1, 100, 1))
	require.ErrorIs(t, err, domain.ErrInsufficientHistory)

	snap, err := engine.Snapshot("BTCUSDT", domain.Interval1m, rampCandles(50, 100, 1))
	require.NoError(t, err)

	assert.Equal(t, 149.0, snap.Price)
	assert.Equal(t, domain.TrendBullish, snap.Trend)
	assert.True(t, snap.Trending())
	assert.Equal(t, 100.0, snap.RSI)
	assert.True(t, snap.BBUpper >= snap.BBMiddle && snap.BBMiddle >= snap.BBLower)
	assert.Greater(t, snap.KellyFraction, 0.0)
	assert.Greater(t, snap.BBWidthPct, 0.0)

	q := snap.QuantMetrics()
	assert.InDelta(t, snap.ATR/snap.Price*100, q.VolatilityIndex, 1e-9)
	assert.InDelta(t, snap.KellyFraction*100, q.KellyPercent, 1e-9)
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

package usecase

import (
	"math"

	"github.com/vitos/crypto_paper_agent/internal/domain"
)

const (
	DefaultRSIPeriod      = 14
	DefaultBBPeriod       = 20
	DefaultBBMultiplier   = 2.0
	DefaultATRPeriod      = 14
	DefaultKalmanQ        = 0.1
	DefaultKalmanR        = 0.1
	DefaultRewardRisk     = 1.5
	RegimeMinBars         = 30
	trendLookback         = 5
	regimeScoreBase       = 0.4
	regimeScoreMultiplier = 0.5
)

// MinSnapshotBars is the shortest candle window Snapshot accepts. It is driven
// by the regime window, the longest of the indicator windows.
const MinSnapshotBars = RegimeMinBars

// Indicator series are aligned to the input. Indices without a full window
// hold NaN, which callers must treat as "unavailable".

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// SMA is the simple moving average of closes.
func SMA(candles []domain.Candle, period int) []float64 {
	out := nanSeries(len(candles))
	if period <= 0 {
		return out
	}
	sum := 0.0
	for i, c := range candles {
		sum += c.Close
		if i >= period {
			sum -= candles[i-period].Close
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// RSI uses Wilder smoothing seeded with the average gain/loss of the first
// period deltas. The first value is available at index period.
func RSI(candles []domain.Candle, period int) []float64 {
	out := nanSeries(len(candles))
	if period <= 0 || len(candles) <= period {
		return out
	}

	var gains, losses float64
	for i := 1; i <= period; i++ {
		change := candles[i].Close - candles[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(candles); i++ {
		change := candles[i].Close - candles[i-1].Close
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}

type BollingerBand struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// WidthPct is the band width as a percentage of the middle band.
func (b BollingerBand) WidthPct() float64 {
	if b.Middle == 0 || math.IsNaN(b.Middle) {
		return math.NaN()
	}
	return (b.Upper - b.Lower) / b.Middle * 100
}

// BollingerBands uses the population standard deviation of the trailing window.
func BollingerBands(candles []domain.Candle, period int, multiplier float64) []BollingerBand {
	sma := SMA(candles, period)
	out := make([]BollingerBand, len(candles))
	for i := range candles {
		if i < period-1 || period <= 0 {
			out[i] = BollingerBand{Upper: math.NaN(), Middle: math.NaN(), Lower: math.NaN()}
			continue
		}
		mean := sma[i]
		variance := 0.0
		for _, c := range candles[i-period+1 : i+1] {
			d := c.Close - mean
			variance += d * d
		}
		stdDev := math.Sqrt(variance / float64(period))
		out[i] = BollingerBand{
			Upper:  mean + multiplier*stdDev,
			Middle: mean,
			Lower:  mean - multiplier*stdDev,
		}
	}
	return out
}

func trueRange(candles []domain.Candle, i int) float64 {
	c := candles[i]
	if i == 0 {
		return c.High - c.Low
	}
	prevClose := candles[i-1].Close
	return math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
}

// ATR seeds index period-1 with the mean true range of the first period bars
// and Wilder-smooths from there.
func ATR(candles []domain.Candle, period int) []float64 {
	out := nanSeries(len(candles))
	if period <= 0 || len(candles) < period {
		return out
	}
	seed := 0.0
	for i := 0; i < period; i++ {
		seed += trueRange(candles, i)
	}
	atr := seed / float64(period)
	out[period-1] = atr
	for i := period; i < len(candles); i++ {
		atr = (atr*float64(period-1) + trueRange(candles, i)) / float64(period)
		out[i] = atr
	}
	return out
}

// KalmanFilter is a one-dimensional recursive estimator over a random walk.
type KalmanFilter struct {
	Q float64 // process noise
	R float64 // measurement noise

	x           float64
	cov         float64
	initialized bool
}

func NewKalmanFilter(q, r float64) *KalmanFilter {
	return &KalmanFilter{Q: q, R: r}
}

// Filter feeds one measurement and returns the updated estimate.
func (k *KalmanFilter) Filter(measurement float64) float64 {
	if !k.initialized {
		k.x = measurement
		k.cov = 1
		k.initialized = true
		return k.x
	}
	predCov := k.cov + k.Q
	gain := predCov / (predCov + k.R)
	k.x += gain * (measurement - k.x)
	k.cov = (1 - gain) * predCov
	return k.x
}

func (k *KalmanFilter) Estimate() (float64, bool) {
	return k.x, k.initialized
}

// ApplyKalman replays closes through a fresh filter and returns the estimate
// after every bar.
func ApplyKalman(candles []domain.Candle, q, r float64) []float64 {
	kf := NewKalmanFilter(q, r)
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = kf.Filter(c.Close)
	}
	return out
}

// EfficiencyRatio is |net move| / path length over the window. A flat window
// has ratio 0.
func EfficiencyRatio(candles []domain.Candle) float64 {
	n := len(candles)
	if n < 2 {
		return 0
	}
	path := 0.0
	for i := 1; i < n; i++ {
		path += math.Abs(candles[i].Close - candles[i-1].Close)
	}
	if path == 0 {
		return 0
	}
	return math.Abs(candles[n-1].Close-candles[0].Close) / path
}

// RegimeScore maps the efficiency ratio onto [0.4, 0.9]. Scores above
// domain.RegimeTrendThreshold read as trending. This is a cheap stand-in for a
// Hurst exponent and is not a statistical estimate of one. Windows shorter
// than RegimeMinBars report NaN.
func RegimeScore(candles []domain.Candle) float64 {
	if len(candles) < RegimeMinBars {
		return math.NaN()
	}
	return regimeScoreBase + regimeScoreMultiplier*EfficiencyRatio(candles)
}

// KellyFraction is p - (1-p)/b, never negative.
func KellyFraction(winProbability, rewardRisk float64) float64 {
	if rewardRisk <= 0 || math.IsNaN(winProbability) {
		return 0
	}
	f := winProbability - (1-winProbability)/rewardRisk
	return math.Max(0, f)
}

// IndicatorEngine turns candle windows into snapshots with fixed parameters.
type IndicatorEngine struct {
	RSIPeriod    int
	BBPeriod     int
	BBMultiplier float64
	ATRPeriod    int
	KalmanQ      float64
	KalmanR      float64
	RewardRisk   float64
}

func NewIndicatorEngine(rewardRisk float64) *IndicatorEngine {
	if rewardRisk <= 0 {
		rewardRisk = DefaultRewardRisk
	}
	return &IndicatorEngine{
		RSIPeriod:    DefaultRSIPeriod,
		BBPeriod:     DefaultBBPeriod,
		BBMultiplier: DefaultBBMultiplier,
		ATRPeriod:    DefaultATRPeriod,
		KalmanQ:      DefaultKalmanQ,
		KalmanR:      DefaultKalmanR,
		RewardRisk:   rewardRisk,
	}
}

// Snapshot computes the latest indicator values. It returns
// domain.ErrInsufficientHistory rather than a partial snapshot when the window
// is too short for any indicator.
func (e *IndicatorEngine) Snapshot(symbol, timeframe string, candles []domain.Candle) (domain.IndicatorSnapshot, error) {
	if len(candles) < MinSnapshotBars {
		return domain.IndicatorSnapshot{}, domain.ErrInsufficientHistory
	}
	last := len(candles) - 1

	rsi := RSI(candles, e.RSIPeriod)[last]
	bb := BollingerBands(candles, e.BBPeriod, e.BBMultiplier)[last]
	atr := ATR(candles, e.ATRPeriod)[last]
	filtered := ApplyKalman(candles, e.KalmanQ, e.KalmanR)[last]
	regime := RegimeScore(candles)

	if math.IsNaN(rsi) || math.IsNaN(bb.Middle) || math.IsNaN(atr) || math.IsNaN(regime) {
		return domain.IndicatorSnapshot{}, domain.ErrInsufficientHistory
	}

	trend := domain.TrendBearish
	if candles[last].Close > candles[last-trendLookback].Close {
		trend = domain.TrendBullish
	}

	return domain.IndicatorSnapshot{
		Symbol:        symbol,
		Timeframe:     timeframe,
		Price:         candles[last].Close,
		RSI:           rsi,
		BBUpper:       bb.Upper,
		BBMiddle:      bb.Middle,
		BBLower:       bb.Lower,
		BBWidthPct:    bb.WidthPct(),
		ATR:           atr,
		FilteredPrice: filtered,
		RegimeScore:   regime,
		KellyFraction: KellyFraction(regime, e.RewardRisk),
		Trend:         trend,
	}, nil
}

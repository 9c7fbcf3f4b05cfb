package domain

type Trend string

const (
	TrendBullish Trend = "BULLISH"
	TrendBearish Trend = "BEARISH"
)

// RegimeTrendThreshold separates trending (above) from mean-reverting regimes.
const RegimeTrendThreshold = 0.5

// IndicatorSnapshot holds the latest indicator values for one symbol and timeframe.
type IndicatorSnapshot struct {
	Symbol        string  `json:"symbol"`
	Timeframe     string  `json:"timeframe"`
	Price         float64 `json:"price"`
	RSI           float64 `json:"rsi"`
	BBUpper       float64 `json:"bbUpper"`
	BBMiddle      float64 `json:"bbMiddle"`
	BBLower       float64 `json:"bbLower"`
	BBWidthPct    float64 `json:"bbWidthPct"`
	ATR           float64 `json:"atr"`
	FilteredPrice float64 `json:"filteredPrice"`
	RegimeScore   float64 `json:"regimeScore"`
	KellyFraction float64 `json:"kellyFraction"`
	Trend         Trend   `json:"trend"`
}

func (s IndicatorSnapshot) Trending() bool {
	return s.RegimeScore > RegimeTrendThreshold
}

// QuantMetrics derives the sizing and volatility summary attached to decisions.
func (s IndicatorSnapshot) QuantMetrics() *QuantMetrics {
	q := &QuantMetrics{
		RegimeScore:   s.RegimeScore,
		FilteredPrice: s.FilteredPrice,
		ATR:           s.ATR,
		KellyPercent:  s.KellyFraction * 100,
	}
	if s.Price > 0 {
		q.VolatilityIndex = s.ATR / s.Price * 100
	}
	return q
}

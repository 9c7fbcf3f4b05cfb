package domain

// Timeframes used by the agent. The primary timeframe drives the live candle
// buffer, the others are fetched on demand when a scan runs.
const (
	Interval1m  = "1m"
	Interval5m  = "5m"
	Interval15m = "15m"
)

type Candle struct {
	Time   int64   `json:"time"` // bucket open time, unix ms
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Ticker is a 24h rolling ticker update for a single symbol.
type Ticker struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	ChangePercent float64 `json:"changePercent"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Volume        float64 `json:"volume"`
}

type OrderBookEntry struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
}

type OrderBook struct {
	Symbol string           `json:"symbol"`
	Bids   []OrderBookEntry `json:"bids"`
	Asks   []OrderBookEntry `json:"asks"`
}

package signal

import (
	"fmt"
	"strings"

	"github.com/vitos/crypto_paper_agent/internal/domain"
)

const systemInstruction = `ROLE: risk manager and multi-timeframe futures trader.
Goal: maximise return while protecting a small paper account.

CONTEXT:
- You receive indicators for three timeframes: 1m (micro), 5m (structure), 15m (macro).
- You choose the leverage between 1x and 20x.

MULTI-TIMEFRAME RULES:
1. Do not open LONG when RSI(15m) > 70 unless it is a very short scalp.
2. Do not open SHORT when RSI(15m) < 30.
3. The 5m/15m trend has priority. Use 1m only to time the entry.

EXECUTION RULE:
- Take profit must lie beyond the current price in the trade direction, otherwise the trade is skipped.
- A stop loss closer than 0.05% to the current price, or on the wrong side of it, is moved 0.5% away on the protective side.

TECHNIQUE:
- 1m, 5m and 15m aligned in one direction: confidence above 90 and higher leverage.
- Price rising while 5m RSI falls: possible reversal.
- Place the stop beyond the last 5m swing low/high.
- A regime score above 0.5 means trending, below means mean reverting.

RESPONSE JSON:
{
  "action": "BUY" | "SELL" | "HOLD" | "WAIT",
  "confidence": <number 0-100>,
  "leverage": <integer 1-20>,
  "reasoning": "State the relation between 1m and 15m explicitly.",
  "targets": {"stopLoss": <price>, "takeProfit": <price>}
}`

// responseSchema constrains the model output to the wireDecision shape.
var responseSchema = map[string]any{
	"type": "OBJECT",
	"properties": map[string]any{
		"action":     map[string]any{"type": "STRING", "enum": []string{"BUY", "SELL", "HOLD", "WAIT"}},
		"confidence": map[string]any{"type": "NUMBER"},
		"leverage":   map[string]any{"type": "INTEGER", "description": "Leverage multiplier between 1 and 20"},
		"reasoning":  map[string]any{"type": "STRING"},
		"targets": map[string]any{
			"type": "OBJECT",
			"properties": map[string]any{
				"stopLoss":   map[string]any{"type": "NUMBER"},
				"takeProfit": map[string]any{"type": "NUMBER"},
			},
		},
	},
	"required": []string{"action", "confidence", "leverage", "reasoning", "targets"},
}

func rsiLabel(rsi float64) string {
	switch {
	case rsi > 70:
		return "(OVERBOUGHT!)"
	case rsi < 30:
		return "(OVERSOLD!)"
	default:
		return "(NEUTRAL)"
	}
}

func bandLocation(s domain.IndicatorSnapshot) string {
	switch {
	case s.Price > s.BBUpper:
		return "breaking above"
	case s.Price < s.BBLower:
		return "breaking below"
	default:
		return "inside range"
	}
}

// BuildPrompt renders the request as the macro/structure/micro prompt. It
// returns ErrInsufficientHistory when a timeframe is missing.
func BuildPrompt(req domain.SignalRequest) (string, error) {
	micro, ok1 := req.Frames[domain.Interval1m]
	structure, ok5 := req.Frames[domain.Interval5m]
	macro, ok15 := req.Frames[domain.Interval15m]
	if !ok1 || !ok5 || !ok15 {
		return "", fmt.Errorf("prompt %s: %w", req.Symbol, domain.ErrInsufficientHistory)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "ASSET: %s\n", req.Symbol)
	fmt.Fprintf(&b, "CAPITAL: %.2f USDT\n", req.Balance)
	if req.Position != nil {
		fmt.Fprintf(&b, "CURRENT POSITION: %s x%d @ %.6g\n", req.Position.Side, req.Position.Leverage, req.Position.EntryPrice)
	} else {
		b.WriteString("CURRENT POSITION: NONE\n")
	}

	b.WriteString("\n--- MULTI-TIMEFRAME ANALYSIS ---\n\n")

	b.WriteString("[MACRO - 15m] (overall trend)\n")
	fmt.Fprintf(&b, "- Trend: %s\n", macro.Trend)
	fmt.Fprintf(&b, "- RSI: %.2f %s\n", macro.RSI, rsiLabel(macro.RSI))
	fmt.Fprintf(&b, "- Bollinger: %s\n", bandLocation(macro))
	fmt.Fprintf(&b, "- Regime score: %.2f\n\n", macro.RegimeScore)

	b.WriteString("[STRUCTURE - 5m] (support/resistance)\n")
	fmt.Fprintf(&b, "- RSI: %.2f\n", structure.RSI)
	fmt.Fprintf(&b, "- Trend: %s\n", structure.Trend)
	fmt.Fprintf(&b, "- ATR: %.6g\n", structure.ATR)
	fmt.Fprintf(&b, "- Bollinger: %.6g / %.6g / %.6g\n\n", structure.BBLower, structure.BBMiddle, structure.BBUpper)

	b.WriteString("[MICRO - 1m] (trigger)\n")
	fmt.Fprintf(&b, "- Price: %.6g\n", micro.Price)
	fmt.Fprintf(&b, "- Filtered price (Kalman): %.6g\n", micro.FilteredPrice)
	fmt.Fprintf(&b, "- RSI: %.2f\n", micro.RSI)
	fmt.Fprintf(&b, "- Volatility (BB width): %.2f%%\n", micro.BBWidthPct)
	if micro.BBWidthPct > 1.5 {
		b.WriteString("- HIGH VOLATILITY\n")
	}
	fmt.Fprintf(&b, "- Regime score: %.2f\n", micro.RegimeScore)
	fmt.Fprintf(&b, "- Kelly fraction: %.2f%%\n", micro.KellyFraction*100)

	if len(req.History) > 0 {
		wins := 0
		for _, t := range req.History {
			if t.Outcome == domain.OutcomeWin {
				wins++
			}
		}
		fmt.Fprintf(&b, "\nRECENT TRADES: %d (%d wins)\n", len(req.History), wins)
		for _, t := range req.History {
			fmt.Fprintf(&b, "- %s %s %s %.2f USDT (%s)\n", t.Symbol, t.Side, t.Outcome, t.PnL, t.ExitReason)
		}
	}

	b.WriteString("\nINSTRUCTION:\n")
	b.WriteString("Check the confluence. Is the 1m entry aligned with 15m?\n")
	b.WriteString("If 15m is bearish, IGNORE 1m buy signals unless it is an extreme rebound.\n")
	b.WriteString("Size take profit and stop loss from the 5m volatility.\n")
	return b.String(), nil
}

package signal

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/vitos/crypto_paper_agent/internal/domain"
)

var validate = validator.New()

// wireDecision is the JSON shape requested from the model.
type wireDecision struct {
	Action     string   `json:"action" validate:"required,oneof=BUY SELL HOLD WAIT"`
	Confidence *float64 `json:"confidence" validate:"required"`
	Leverage   *float64 `json:"leverage" validate:"required"`
	Reasoning  string   `json:"reasoning"`
	Targets    *struct {
		StopLoss   float64 `json:"stopLoss" validate:"gte=0"`
		TakeProfit float64 `json:"takeProfit" validate:"gte=0"`
	} `json:"targets" validate:"required"`
}

// DecodeDecision turns model output into a normalized TradeDecision. Missing
// or unknown fields are rejected with ErrInvalidDecision; numeric fields
// outside their range are clamped.
func DecodeDecision(text string) (*domain.TradeDecision, error) {
	text = stripFences(text)
	if text == "" {
		return nil, fmt.Errorf("empty response: %w", domain.ErrInvalidDecision)
	}

	var w wireDecision
	if err := json.Unmarshal([]byte(text), &w); err != nil {
		return nil, fmt.Errorf("decode decision: %v: %w", err, domain.ErrInvalidDecision)
	}
	w.Action = strings.ToUpper(strings.TrimSpace(w.Action))
	if err := validate.Struct(w); err != nil {
		return nil, fmt.Errorf("validate decision: %v: %w", err, domain.ErrInvalidDecision)
	}

	// Clamp before converting so huge values cannot overflow int.
	leverage := math.Min(math.Max(*w.Leverage, domain.MinLeverage), domain.MaxLeverage)

	d := &domain.TradeDecision{
		Action:     domain.Action(w.Action),
		Confidence: *w.Confidence,
		Leverage:   int(math.Round(leverage)),
		StopLoss:   w.Targets.StopLoss,
		TakeProfit: w.Targets.TakeProfit,
		Reasoning:  strings.TrimSpace(w.Reasoning),
	}
	d.Normalize()
	return d, nil
}

// stripFences removes a markdown code fence some models wrap JSON in.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimPrefix(text, "json")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

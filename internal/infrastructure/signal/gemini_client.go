package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vitos/crypto_paper_agent/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultEndpoint    = "https://generativelanguage.googleapis.com"
	DefaultModel       = "gemini-2.5-flash"
	DefaultTemperature = 0.1
)

type GeminiConfig struct {
	Endpoint          string
	Model             string
	APIKey            string
	Temperature       float64
	RequestsPerMinute int
	Timeout           time.Duration
}

// GeminiClient asks the Gemini generateContent API for a trade decision.
type GeminiClient struct {
	cfg     GeminiConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ domain.SignalGenerator = (*GeminiClient)(nil)

func NewGeminiClient(cfg GeminiConfig, logger *zap.Logger) *GeminiClient {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultTemperature
	}
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}
	return &GeminiClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	ResponseMimeType string         `json:"responseMimeType"`
	ResponseSchema   map[string]any `json:"responseSchema"`
	Temperature      float64        `json:"temperature"`
}

type generateRequest struct {
	SystemInstruction content          `json:"systemInstruction"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// GenerateSignal implements domain.SignalGenerator. HTTP 429 and
// RESOURCE_EXHAUSTED map to ErrSignalRateLimited.
func (g *GeminiClient) GenerateSignal(ctx context.Context, req domain.SignalRequest) (*domain.TradeDecision, error) {
	prompt, err := BuildPrompt(req)
	if err != nil {
		return nil, err
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("signal limiter: %w", err)
	}

	payload, err := json.Marshal(generateRequest{
		SystemInstruction: content{Parts: []part{{Text: systemInstruction}}},
		Contents:          []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   responseSchema,
			Temperature:      g.cfg.Temperature,
		},
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", strings.TrimRight(g.cfg.Endpoint, "/"), g.cfg.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.cfg.APIKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("signal request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read signal response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests ||
		(resp.StatusCode >= 400 && bytes.Contains(body, []byte("RESOURCE_EXHAUSTED"))) {
		g.logger.Warn("Signal provider rate limited", zap.String("symbol", req.Symbol), zap.Int("status", resp.StatusCode))
		return nil, domain.ErrSignalRateLimited
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("signal api error: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode signal response: %w", err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return nil, domain.ErrSignalUnavailable
	}

	var text strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}

	decision, err := DecodeDecision(text.String())
	if err != nil {
		g.logger.Warn("Discarding malformed decision", zap.String("symbol", req.Symbol), zap.Error(err))
		return nil, err
	}
	decision.Timestamp = time.Now()

	g.logger.Debug("Decision received",
		zap.String("symbol", req.Symbol),
		zap.String("action", string(decision.Action)),
		zap.Float64("confidence", decision.Confidence),
		zap.Int("leverage", decision.Leverage))
	return decision, nil
}

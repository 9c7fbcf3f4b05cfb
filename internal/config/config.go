package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvSignalAPIKey overrides signal.api_key so the key can stay out of the file.
const EnvSignalAPIKey = "AGENT_SIGNAL_API_KEY"

type Config struct {
	Assets    []string        `yaml:"assets" validate:"required,min=1,dive,required,uppercase"`
	Market    MarketConfig    `yaml:"market"`
	Signal    SignalConfig    `yaml:"signal"`
	Risk      RiskConfig      `yaml:"risk"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Storage   StorageConfig   `yaml:"storage"`
	Events    EventsConfig    `yaml:"events"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// MarketConfig.Interval is the live micro frame. Only 1m is accepted: the 5m
// and 15m frames are always fetched over REST as structure and macro.
type MarketConfig struct {
	RESTEndpoint      string  `yaml:"rest_endpoint" validate:"required,url"`
	WSEndpoint        string  `yaml:"ws_endpoint" validate:"required,url"`
	Interval          string  `yaml:"interval" validate:"required,oneof=1m"`
	HistoryLimit      int     `yaml:"history_limit" validate:"gte=30,lte=1000"`
	FrameLimit        int     `yaml:"frame_limit" validate:"gte=30,lte=1000"`
	MaxCandles        int     `yaml:"max_candles" validate:"gte=30"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gt=0"`
}

type SignalConfig struct {
	Endpoint          string        `yaml:"endpoint" validate:"required,url"`
	Model             string        `yaml:"model" validate:"required"`
	APIKey            string        `yaml:"api_key"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	RequestsPerMinute int           `yaml:"requests_per_minute" validate:"gte=0"`
	Temperature       float64       `yaml:"temperature" validate:"gte=0,lte=2"`
}

type RiskConfig struct {
	InitialBalance      float64 `yaml:"initial_balance" validate:"gt=0"`
	FeeRate             float64 `yaml:"fee_rate" validate:"gte=0,lt=0.1"`
	TrailingGap         float64 `yaml:"trailing_gap" validate:"gt=0,lt=1"`
	LiquidationFraction float64 `yaml:"liquidation_fraction" validate:"gt=0,lte=1"`
	MarginFraction      float64 `yaml:"margin_fraction" validate:"gt=0,lte=1"`
	MinMargin           float64 `yaml:"min_margin" validate:"gt=0"`
	MaxMargin           float64 `yaml:"max_margin" validate:"gtefield=MinMargin"`
	MaxLeverage         int     `yaml:"max_leverage" validate:"gte=1,lte=20"`
	ConfidenceFloor     float64 `yaml:"confidence_floor" validate:"gte=0,lte=100"`
	MinStopDistance     float64 `yaml:"min_stop_distance" validate:"gte=0,lt=1"`
	StopWiden           float64 `yaml:"stop_widen" validate:"gt=0,lt=1"`
	RewardRisk          float64 `yaml:"reward_risk" validate:"gt=0"`
}

type SchedulerConfig struct {
	AutoMode                 bool          `yaml:"auto_mode"`
	MinScanInterval          time.Duration `yaml:"min_scan_interval" validate:"gt=0"`
	RateLimitSlack           time.Duration `yaml:"rate_limit_slack" validate:"gte=0"`
	WarmUp                   time.Duration `yaml:"warm_up" validate:"gte=0"`
	ActivePositionDelay      time.Duration `yaml:"active_position_delay" validate:"gt=0"`
	NoDataDelay              time.Duration `yaml:"no_data_delay" validate:"gt=0"`
	HistoryFailureDelay      time.Duration `yaml:"history_failure_delay" validate:"gt=0"`
	NoSignalDelay            time.Duration `yaml:"no_signal_delay" validate:"gt=0"`
	LowConfidenceDelay       time.Duration `yaml:"low_confidence_delay" validate:"gt=0"`
	SignalFailureDelay       time.Duration `yaml:"signal_failure_delay" validate:"gt=0"`
	RateLimitCooldown        time.Duration `yaml:"rate_limit_cooldown" validate:"gtfield=NoSignalDelay"`
	InsufficientBalanceDelay time.Duration `yaml:"insufficient_balance_delay" validate:"gt=0"`
	ExecutionDwell           time.Duration `yaml:"execution_dwell" validate:"gte=0"`
	SignalTimeout            time.Duration `yaml:"signal_timeout" validate:"gt=0"`
	HistoryTimeout           time.Duration `yaml:"history_timeout" validate:"gt=0"`
	HistoryContext           int           `yaml:"history_context" validate:"gte=0"`
}

type StorageConfig struct {
	Driver string `yaml:"driver" validate:"required,oneof=sqlite3 postgres"`
	DSN    string `yaml:"dsn" validate:"required"`
}

// EventsConfig enables trade-event publishing when Brokers is non-empty.
type EventsConfig struct {
	Brokers []string `yaml:"brokers" validate:"dive,hostname_port"`
	Topic   string   `yaml:"topic" validate:"required_with=Brokers"`
}

func (e EventsConfig) Enabled() bool {
	return len(e.Brokers) > 0
}

type ServerConfig struct {
	Port int `yaml:"port" validate:"gte=0,lte=65535"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" validate:"oneof=debug info warn error"`
	Encoding string `yaml:"encoding" validate:"oneof=json console"`
}

// Default returns the configuration used for every field the file omits.
func Default() Config {
	return Config{
		Assets: []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT", "XRPUSDT", "DOGEUSDT", "PEPEUSDT"},
		Market: MarketConfig{
			RESTEndpoint:      "https://api.binance.com",
			WSEndpoint:        "wss://stream.binance.com:9443",
			Interval:          "1m",
			HistoryLimit:      100,
			FrameLimit:        50,
			MaxCandles:        200,
			RequestsPerSecond: 10,
		},
		Signal: SignalConfig{
			Endpoint:          "https://generativelanguage.googleapis.com",
			Model:             "gemini-2.5-flash",
			Timeout:           30 * time.Second,
			RequestsPerMinute: 6,
			Temperature:       0.1,
		},
		Risk: RiskConfig{
			InitialBalance:      100,
			FeeRate:             0.0005,
			TrailingGap:         0.003,
			LiquidationFraction: 0.9,
			MarginFraction:      0.20,
			MinMargin:           5,
			MaxMargin:           20,
			MaxLeverage:         20,
			ConfidenceFloor:     70,
			MinStopDistance:     0.0005,
			StopWiden:           0.005,
			RewardRisk:          1.5,
		},
		Scheduler: SchedulerConfig{
			AutoMode:                 true,
			MinScanInterval:          10 * time.Second,
			RateLimitSlack:           500 * time.Millisecond,
			WarmUp:                   1500 * time.Millisecond,
			ActivePositionDelay:      3 * time.Second,
			NoDataDelay:              2 * time.Second,
			HistoryFailureDelay:      2 * time.Second,
			NoSignalDelay:            3 * time.Second,
			LowConfidenceDelay:       3 * time.Second,
			SignalFailureDelay:       3 * time.Second,
			RateLimitCooldown:        60 * time.Second,
			InsufficientBalanceDelay: 4 * time.Second,
			ExecutionDwell:           6 * time.Second,
			SignalTimeout:            30 * time.Second,
			HistoryTimeout:           10 * time.Second,
			HistoryContext:           10,
		},
		Storage: StorageConfig{
			Driver: "sqlite3",
			DSN:    "agent.db",
		},
		Events: EventsConfig{
			Topic: "paper-trades",
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := Default()
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	if key := os.Getenv(EnvSignalAPIKey); key != "" {
		cfg.Signal.APIKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

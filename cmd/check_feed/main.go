package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/vitos/crypto_paper_agent/internal/config"
	"github.com/vitos/crypto_paper_agent/internal/domain"
	"github.com/vitos/crypto_paper_agent/internal/infrastructure/exchange"
	"github.com/vitos/crypto_paper_agent/internal/usecase"
	"go.uber.org/zap"
)

var (
	cfgFile string
	watch   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "check_feed",
	Short: "Fetch history for every configured asset and print its indicator snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return checkFeed(cmd.Context(), cfg)
	},
}

func main() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "config/config.yaml", "path to the YAML config file")
	rootCmd.Flags().DurationVar(&watch, "watch", 5*time.Second, "how long to stream tickers, 0 to skip")
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func checkFeed(ctx context.Context, cfg *config.Config) error {
	adapter := exchange.NewBinanceAdapter(cfg.Market.RESTEndpoint, cfg.Market.WSEndpoint, cfg.Market.RequestsPerSecond, zap.NewNop())
	defer adapter.Close()
	engine := usecase.NewIndicatorEngine(cfg.Risk.RewardRisk)

	fmt.Printf("Checking %s ...\n", cfg.Market.RESTEndpoint)

	// 1. History and snapshots per timeframe
	intervals := []string{cfg.Market.Interval}
	for _, iv := range []string{domain.Interval5m, domain.Interval15m} {
		if iv != cfg.Market.Interval {
			intervals = append(intervals, iv)
		}
	}
	for _, symbol := range cfg.Assets {
		for i, interval := range intervals {
			limit := cfg.Market.FrameLimit
			if i == 0 {
				limit = cfg.Market.HistoryLimit
			}
			candles, err := adapter.GetCandles(ctx, symbol, interval, limit)
			if err != nil {
				fmt.Printf("❌ %s %s: %v\n", symbol, interval, err)
				continue
			}
			snap, err := engine.Snapshot(symbol, interval, candles)
			if err != nil {
				fmt.Printf("❌ %s %s: %d candles: %v\n", symbol, interval, len(candles), err)
				continue
			}
			fmt.Printf("✅ %s %s: price=%.6g rsi=%.1f bb=[%.6g %.6g] width=%.2f%% atr=%.6g trend=%s regime=%.2f kelly=%.1f%%\n",
				symbol, interval, snap.Price, snap.RSI, snap.BBLower, snap.BBUpper, snap.BBWidthPct,
				snap.ATR, snap.Trend, snap.RegimeScore, snap.KellyFraction*100)
		}
	}

	if watch <= 0 {
		return nil
	}

	// 2. Live tickers
	seen := make(chan domain.Ticker, 64)
	adapter.OnTicker(func(t domain.Ticker) {
		select {
		case seen <- t:
		default:
		}
	})
	if err := adapter.WatchTickers(cfg.Assets); err != nil {
		return fmt.Errorf("watch tickers: %w", err)
	}

	fmt.Printf("Streaming tickers for %s ...\n", watch)
	deadline := time.After(watch)
	for {
		select {
		case t := <-seen:
			fmt.Printf("%s %.6g (%+.2f%%)\n", t.Symbol, t.Price, t.ChangePercent)
		case <-deadline:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

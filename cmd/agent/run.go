package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vitos/crypto_paper_agent/internal/domain"
	"github.com/vitos/crypto_paper_agent/internal/infrastructure/events"
	"github.com/vitos/crypto_paper_agent/internal/infrastructure/exchange"
	llmsignal "github.com/vitos/crypto_paper_agent/internal/infrastructure/signal"
	"github.com/vitos/crypto_paper_agent/internal/infrastructure/storage"
	"github.com/vitos/crypto_paper_agent/internal/usecase"
	"github.com/vitos/crypto_paper_agent/internal/web"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

type publisher interface {
	domain.TradeEventPublisher
	Close() error
}

func runAgent(ctx context.Context) error {
	// 1. Init Storage
	store, err := storage.NewSQLStore(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("failed to init storage: %w", err)
	}
	defer store.Close()

	// 2. Restore Ledger
	ledger := usecase.NewPortfolioLedger(storage.NewStateRepository(store), cfg.Risk.InitialBalance, log)
	if err := ledger.Load(ctx); err != nil {
		log.Error("Failed to restore ledger, starting fresh", zap.Error(err))
	}

	// 3. Init Exchange (Binance public market data)
	adapter := exchange.NewBinanceAdapter(cfg.Market.RESTEndpoint, cfg.Market.WSEndpoint, cfg.Market.RequestsPerSecond, log)
	market := usecase.NewMarketService(adapter, cfg.Market.MaxCandles, log)
	defer market.Close()

	// 4. Init Trade Events
	var pub publisher = events.NopPublisher{}
	if cfg.Events.Enabled() {
		pub = events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.Topic, log)
		log.Info("Publishing trade events", zap.Strings("brokers", cfg.Events.Brokers), zap.String("topic", cfg.Events.Topic))
	}
	defer pub.Close()

	// 5. Init Services
	positions := usecase.NewPositionManager(ledger, riskConfig(), market, pub, log)
	gate := usecase.NewSignalGate(gateConfig())
	engine := usecase.NewIndicatorEngine(cfg.Risk.RewardRisk)
	if cfg.Signal.APIKey == "" {
		log.Warn("Signal API key is empty, every scan will fail")
	}
	signals := llmsignal.NewGeminiClient(llmsignal.GeminiConfig{
		Endpoint:          cfg.Signal.Endpoint,
		Model:             cfg.Signal.Model,
		APIKey:            cfg.Signal.APIKey,
		Temperature:       cfg.Signal.Temperature,
		RequestsPerMinute: cfg.Signal.RequestsPerMinute,
		Timeout:           cfg.Signal.Timeout,
	}, log)
	scheduler := usecase.NewScanScheduler(schedulerConfig(), market, engine, gate, positions, signals, log)

	// 6. Start Processing
	market.OnPriceUpdate(scheduler.HandleTick)
	if err := scheduler.Start(ctx, cfg.Scheduler.AutoMode); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer scheduler.Stop()

	// 7. Init Web Server
	server := web.NewServer(cfg.Server.Port, scheduler, positions, market, log)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// 8. Wait for Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case <-stop:
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
	return nil
}

func riskConfig() usecase.RiskConfig {
	return usecase.RiskConfig{
		FeeRate:             cfg.Risk.FeeRate,
		TrailingGap:         cfg.Risk.TrailingGap,
		LiquidationFraction: cfg.Risk.LiquidationFraction,
		MarginFraction:      cfg.Risk.MarginFraction,
		MinMargin:           cfg.Risk.MinMargin,
		MaxMargin:           cfg.Risk.MaxMargin,
	}
}

func gateConfig() usecase.GateConfig {
	return usecase.GateConfig{
		MinScanInterval: cfg.Scheduler.MinScanInterval,
		RateLimitSlack:  cfg.Scheduler.RateLimitSlack,
		ConfidenceFloor: cfg.Risk.ConfidenceFloor,
		MinStopDistance: cfg.Risk.MinStopDistance,
		StopWiden:       cfg.Risk.StopWiden,
		MaxLeverage:     cfg.Risk.MaxLeverage,
	}
}

func schedulerConfig() usecase.SchedulerConfig {
	sc := cfg.Scheduler
	out := usecase.DefaultSchedulerConfig()
	out.Assets = cfg.Assets
	out.Interval = cfg.Market.Interval
	out.HistoryLimit = cfg.Market.HistoryLimit
	out.FrameLimit = cfg.Market.FrameLimit
	out.HistoryContext = sc.HistoryContext
	out.WarmUp = sc.WarmUp
	out.ActivePositionDelay = sc.ActivePositionDelay
	out.NoDataDelay = sc.NoDataDelay
	out.HistoryFailureDelay = sc.HistoryFailureDelay
	out.NoSignalDelay = sc.NoSignalDelay
	out.LowConfidenceDelay = sc.LowConfidenceDelay
	out.SignalFailureDelay = sc.SignalFailureDelay
	out.RateLimitCooldown = sc.RateLimitCooldown
	out.InsufficientBalanceDelay = sc.InsufficientBalanceDelay
	out.ExecutionDwell = sc.ExecutionDwell
	out.SignalTimeout = sc.SignalTimeout
	out.HistoryTimeout = sc.HistoryTimeout
	return out
}

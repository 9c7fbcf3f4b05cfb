package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/vitos/crypto_paper_agent/internal/domain"
	"github.com/vitos/crypto_paper_agent/internal/infrastructure/metrics"
	"go.uber.org/zap"
)

type SchedulerState string

const (
	StateIdle        SchedulerState = "IDLE"
	StateScanning    SchedulerState = "SCANNING"
	StateExecuting   SchedulerState = "EXECUTING"
	StateCoolingDown SchedulerState = "COOLING_DOWN"
	StateRotating    SchedulerState = "ROTATING"
)

type PendingAction string

const (
	PendingNone   PendingAction = ""
	PendingScan   PendingAction = "scan"
	PendingRotate PendingAction = "rotate"
)

var (
	ErrScanInProgress  = errors.New("scan already in progress")
	ErrExecutionLocked = errors.New("execution in progress")
)

type SchedulerConfig struct {
	Assets         []string
	Interval       string
	FrameIntervals []string
	HistoryLimit   int
	FrameLimit     int
	HistoryContext int

	WarmUp                   time.Duration
	ActivePositionDelay      time.Duration
	NoDataDelay              time.Duration
	HistoryFailureDelay      time.Duration
	NoSignalDelay            time.Duration
	LowConfidenceDelay       time.Duration
	SignalFailureDelay       time.Duration
	RateLimitCooldown        time.Duration
	InsufficientBalanceDelay time.Duration
	ExecutionDwell           time.Duration
	SignalTimeout            time.Duration
	HistoryTimeout           time.Duration
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Assets:                   []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT", "XRPUSDT", "DOGEUSDT", "PEPEUSDT"},
		Interval:                 domain.Interval1m,
		FrameIntervals:           []string{domain.Interval5m, domain.Interval15m},
		HistoryLimit:             100,
		FrameLimit:               50,
		HistoryContext:           10,
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
	}
}

// SignalStatus is the decision, real or synthetic, shown for the active symbol.
type SignalStatus struct {
	Action       domain.Action        `json:"action"`
	Confidence   float64              `json:"confidence"`
	Leverage     int                  `json:"leverage"`
	Reasoning    string               `json:"reasoning"`
	StopLoss     float64              `json:"stopLoss"`
	TakeProfit   float64              `json:"takeProfit"`
	QuantMetrics *domain.QuantMetrics `json:"quantMetrics,omitempty"`
	Message      string               `json:"message,omitempty"`
	Timestamp    time.Time            `json:"timestamp"`
}

// EngineState is a read snapshot of the scheduler.
type EngineState struct {
	ActiveSymbol    string                              `json:"activeSymbol"`
	State           SchedulerState                      `json:"state"`
	AutoMode        bool                                `json:"autoMode"`
	Scanning        bool                                `json:"scanning"`
	ExecutionLocked bool                                `json:"executionLocked"`
	LastScanAt      time.Time                           `json:"lastScanAt"`
	PendingAction   PendingAction                       `json:"pendingAction,omitempty"`
	NextActionAt    time.Time                           `json:"nextActionAt,omitempty"`
	LastReason      GateReason                          `json:"lastReason,omitempty"`
	Generation      uint64                              `json:"generation"`
	Signal          *SignalStatus                       `json:"signal,omitempty"`
	Frames          map[string]domain.IndicatorSnapshot `json:"frames,omitempty"`
	Assets          []string                            `json:"assets"`
}

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type scanOutcome struct {
	reason GateReason
	delay  time.Duration
	status SignalStatus
	frames map[string]domain.IndicatorSnapshot
	order  *ValidatedOrder
}

// ScanScheduler drives scan, cooldown, execution and rotation for one account.
// Every asset change or mode toggle bumps the generation; timers and in-flight
// scans from an older generation are dropped.
type ScanScheduler struct {
	cfg       SchedulerConfig
	market    *MarketService
	engine    *IndicatorEngine
	gate      *SignalGate
	positions *PositionManager
	signals   domain.SignalGenerator
	logger    *zap.Logger

	mu           sync.Mutex
	ctx          context.Context
	cancel       context.CancelFunc
	activeSymbol string
	state        SchedulerState
	autoMode     bool
	scanning     bool
	locked       bool
	lastScanAt   time.Time
	lastReason   GateReason
	signal       *SignalStatus
	frames       map[string]domain.IndicatorSnapshot
	generation   uint64
	timer        Timer
	timerSeq     uint64
	pending      PendingAction
	nextActionAt time.Time
	dwell        Timer

	afterFunc AfterFunc
	timeNow   func() time.Time
}

func NewScanScheduler(
	cfg SchedulerConfig,
	market *MarketService,
	engine *IndicatorEngine,
	gate *SignalGate,
	positions *PositionManager,
	signals domain.SignalGenerator,
	logger *zap.Logger,
) *ScanScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	active := ""
	if len(cfg.Assets) > 0 {
		active = cfg.Assets[0]
	}
	return &ScanScheduler{
		cfg:          cfg,
		market:       market,
		engine:       engine,
		gate:         gate,
		positions:    positions,
		signals:      signals,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		activeSymbol: active,
		state:        StateIdle,
		autoMode:     true,
		afterFunc:    realAfterFunc,
		timeNow:      time.Now,
	}
}

// Start subscribes to the cross-asset ticker stream and enters the active
// symbol. autoMode sets whether scans run on their own.
func (s *ScanScheduler) Start(ctx context.Context, autoMode bool) error {
	s.mu.Lock()
	// Release the context created by the constructor or an earlier Start.
	s.cancel()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.autoMode = autoMode
	symbol := s.activeSymbol
	s.mu.Unlock()

	if err := s.market.WatchAll(s.cfg.Assets); err != nil {
		return err
	}
	s.enter(symbol)
	return nil
}

// Stop cancels every timer, releases the execution lock and aborts in-flight
// external calls.
func (s *ScanScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.stopTimerLocked()
	if s.dwell != nil {
		s.dwell.Stop()
		s.dwell = nil
	}
	s.locked = false
	s.state = StateIdle
	s.cancel()
}

func (s *ScanScheduler) State() EngineState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := EngineState{
		ActiveSymbol:    s.activeSymbol,
		State:           s.state,
		AutoMode:        s.autoMode,
		Scanning:        s.scanning,
		ExecutionLocked: s.locked,
		LastScanAt:      s.lastScanAt,
		PendingAction:   s.pending,
		NextActionAt:    s.nextActionAt,
		LastReason:      s.lastReason,
		Generation:      s.generation,
		Assets:          append([]string(nil), s.cfg.Assets...),
	}
	if s.signal != nil {
		sig := *s.signal
		st.Signal = &sig
	}
	if s.frames != nil {
		st.Frames = make(map[string]domain.IndicatorSnapshot, len(s.frames))
		for k, v := range s.frames {
			st.Frames[k] = v
		}
	}
	return st
}

// SetActiveSymbol switches scanning to symbol, cancelling pending timers.
func (s *ScanScheduler) SetActiveSymbol(symbol string) error {
	if !s.knownSymbol(symbol) {
		return fmt.Errorf("select %s: %w", symbol, domain.ErrUnknownSymbol)
	}
	s.enter(symbol)
	return nil
}

// Rotate advances to the next asset. It reports false while the execution
// lock is held.
func (s *ScanScheduler) Rotate() bool {
	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()
	return s.rotate(gen)
}

// SetAutoMode turns autonomous scanning on or off. Turning it off cancels
// every pending timer; turning it on schedules a scan of the active symbol.
func (s *ScanScheduler) SetAutoMode(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.autoMode == on {
		return
	}
	s.autoMode = on
	s.generation++
	s.stopTimerLocked()
	s.logger.Info("Autonomous mode changed", zap.Bool("enabled", on), zap.String("symbol", s.activeSymbol))
	if !on {
		if !s.locked {
			s.state = StateIdle
		}
		return
	}
	s.scheduleLocked(0, PendingScan, s.runScan)
}

func (s *ScanScheduler) ToggleAutoMode() bool {
	s.mu.Lock()
	next := !s.autoMode
	s.mu.Unlock()
	s.SetAutoMode(next)
	return next
}

// ScanNow runs a scan of the active symbol and waits for it. Outside
// autonomous mode the decision is only reported, never executed.
func (s *ScanScheduler) ScanNow() (EngineState, error) {
	s.mu.Lock()
	if s.scanning {
		s.mu.Unlock()
		return s.State(), ErrScanInProgress
	}
	if s.locked {
		s.mu.Unlock()
		return s.State(), ErrExecutionLocked
	}
	gen := s.generation
	s.mu.Unlock()

	s.runScan(gen)
	return s.State(), nil
}

// ResetAccount restores the initial balance, clears positions and history and
// forgets the gate's rate-limit clock.
func (s *ScanScheduler) ResetAccount(ctx context.Context) error {
	if err := s.positions.Reset(ctx); err != nil {
		return fmt.Errorf("reset account: %w", err)
	}
	s.gate.Reset()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.signal = nil
	return nil
}

// HandleTick feeds a live price into position monitoring. It runs for every
// symbol regardless of which one is being scanned.
func (s *ScanScheduler) HandleTick(symbol string, price float64) {
	result, closed := s.positions.OnTick(s.baseContext(), symbol, price)
	if !closed {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if symbol == s.activeSymbol {
		s.signal = &SignalStatus{
			Action:    domain.ActionWait,
			Reasoning: fmt.Sprintf("Closed %s (%s). Realized %.2f USDT", symbol, result.ExitReason, result.PnL),
			Timestamp: s.timeNow(),
		}
	}
}

func (s *ScanScheduler) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *ScanScheduler) knownSymbol(symbol string) bool {
	for _, a := range s.cfg.Assets {
		if a == symbol {
			return true
		}
	}
	return false
}

// nextSymbolLocked returns the asset after the active one, wrapping.
func (s *ScanScheduler) nextSymbolLocked() string {
	n := len(s.cfg.Assets)
	if n == 0 {
		return s.activeSymbol
	}
	for i, a := range s.cfg.Assets {
		if a == s.activeSymbol {
			return s.cfg.Assets[(i+1)%n]
		}
	}
	return s.cfg.Assets[0]
}

func (s *ScanScheduler) rotate(gen uint64) bool {
	s.mu.Lock()
	if gen != s.generation || s.locked {
		s.mu.Unlock()
		return false
	}
	s.state = StateRotating
	next := s.nextSymbolLocked()
	s.mu.Unlock()

	s.logger.Debug("Rotating", zap.String("symbol", next))
	s.enter(next)
	return true
}

// enter makes symbol active, loads its history and schedules the warm-up scan.
func (s *ScanScheduler) enter(symbol string) {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.stopTimerLocked()
	s.activeSymbol = symbol
	if !s.locked {
		s.state = StateIdle
	}
	s.frames = nil
	s.signal = &SignalStatus{
		Action:    domain.ActionWait,
		Reasoning: fmt.Sprintf("Loading market data for %s", symbol),
		Timestamp: s.timeNow(),
	}
	ctx := s.ctx
	s.mu.Unlock()

	if err := s.market.Focus(symbol, s.cfg.Interval); err != nil {
		s.logger.Warn("Failed to switch market streams", zap.String("symbol", symbol), zap.Error(err))
	}

	hctx, cancel := context.WithTimeout(ctx, s.cfg.HistoryTimeout)
	candles, err := s.market.LoadHistory(hctx, symbol, s.cfg.Interval, s.cfg.HistoryLimit)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return
	}
	if err != nil || len(candles) == 0 {
		s.logger.Warn("History unavailable", zap.String("symbol", symbol), zap.Error(err))
		s.lastReason = ReasonHistoryFailed
		s.signal.Reasoning = "Market data feed failed. Retrying on the next asset"
		s.signal.Message = "feed error"
		metrics.ScansTotal.WithLabelValues(symbol, string(ReasonHistoryFailed)).Inc()
		if s.autoMode {
			s.state = StateRotating
			s.scheduleLocked(s.cfg.HistoryFailureDelay, PendingRotate, s.rotateFromTimer)
		}
		return
	}
	if s.autoMode {
		s.scheduleLocked(s.cfg.WarmUp, PendingScan, s.runScan)
	}
}

func (s *ScanScheduler) rotateFromTimer(gen uint64) {
	s.rotate(gen)
}

// scheduleLocked replaces the pending timer. The callback runs only if no
// newer timer was scheduled and the generation is unchanged.
func (s *ScanScheduler) scheduleLocked(d time.Duration, action PendingAction, fn func(gen uint64)) {
	s.stopTimerLocked()
	s.timerSeq++
	seq, gen := s.timerSeq, s.generation
	s.pending = action
	s.nextActionAt = s.timeNow().Add(d)
	s.timer = s.afterFunc(d, func() {
		s.mu.Lock()
		if seq != s.timerSeq || gen != s.generation {
			s.mu.Unlock()
			return
		}
		s.timer = nil
		s.pending = PendingNone
		s.nextActionAt = time.Time{}
		s.mu.Unlock()
		fn(gen)
	})
}

func (s *ScanScheduler) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerSeq++
	s.pending = PendingNone
	s.nextActionAt = time.Time{}
}

// startDwellLocked holds the execution lock for ExecutionDwell. The dwell
// timer is not tied to the generation: it always releases the lock.
func (s *ScanScheduler) startDwellLocked(gen uint64) {
	s.dwell = s.afterFunc(s.cfg.ExecutionDwell, func() {
		s.mu.Lock()
		s.locked = false
		s.dwell = nil
		current := gen == s.generation && s.autoMode
		resume := gen != s.generation && s.autoMode && s.timer == nil && !s.scanning
		if current {
			s.state = StateRotating
		} else {
			s.state = StateIdle
		}
		if resume {
			// The asset changed during the dwell and its scan was skipped.
			s.scheduleLocked(0, PendingScan, s.runScan)
		}
		s.mu.Unlock()
		if current {
			s.rotate(gen)
		}
	})
}

// delayFor maps a scan outcome to the wait before rotating.
func (s *ScanScheduler) delayFor(reason GateReason) (time.Duration, SchedulerState) {
	switch reason {
	case ReasonActivePosition:
		return s.cfg.ActivePositionDelay, StateRotating
	case ReasonNoData:
		return s.cfg.NoDataDelay, StateRotating
	case ReasonHistoryFailed:
		return s.cfg.HistoryFailureDelay, StateRotating
	case ReasonLowConfidence:
		return s.cfg.LowConfidenceDelay, StateRotating
	case ReasonSignalFailed:
		return s.cfg.SignalFailureDelay, StateRotating
	case ReasonSignalThrottled:
		return s.cfg.RateLimitCooldown, StateCoolingDown
	case ReasonNoBalance:
		return s.cfg.InsufficientBalanceDelay, StateRotating
	default:
		return s.cfg.NoSignalDelay, StateRotating
	}
}

func (s *ScanScheduler) runScan(gen uint64) {
	s.mu.Lock()
	if gen != s.generation || s.scanning || s.locked {
		s.mu.Unlock()
		return
	}
	s.scanning = true
	s.state = StateScanning
	s.stopTimerLocked()
	symbol, auto, ctx := s.activeSymbol, s.autoMode, s.ctx
	s.mu.Unlock()

	out := s.evaluate(ctx, symbol)

	s.mu.Lock()
	s.scanning = false
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	status := out.status
	s.signal = &status
	s.lastReason = out.reason
	if out.frames != nil {
		s.frames = out.frames
	}
	if out.reason != ReasonRateLimited && out.reason != ReasonActivePosition {
		s.lastScanAt = s.timeNow()
	}
	metrics.ScansTotal.WithLabelValues(symbol, string(out.reason)).Inc()
	s.logger.Info("Scan finished",
		zap.String("symbol", symbol),
		zap.String("reason", string(out.reason)),
		zap.String("action", string(out.status.Action)),
		zap.Float64("confidence", out.status.Confidence),
		zap.Uint64("generation", gen))

	if !auto {
		s.state = StateIdle
		s.mu.Unlock()
		return
	}

	switch out.reason {
	case ReasonRateLimited:
		s.state = StateCoolingDown
		s.scheduleLocked(out.delay, PendingScan, s.runScan)
		s.mu.Unlock()
		return
	case ReasonExecute:
	default:
		delay, state := s.delayFor(out.reason)
		s.state = state
		s.scheduleLocked(delay, PendingRotate, s.rotateFromTimer)
		s.mu.Unlock()
		return
	}

	s.locked = true
	s.state = StateExecuting
	s.mu.Unlock()

	pos, err := s.positions.Open(ctx, symbol, *out.order)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.locked = false
		reason := ReasonNoSignal
		if errors.Is(err, domain.ErrInsufficientBalance) {
			reason = ReasonNoBalance
			s.signal.Message = "insufficient funds"
		} else {
			s.signal.Message = err.Error()
		}
		s.lastReason = reason
		s.logger.Warn("Execution skipped", zap.String("symbol", symbol), zap.Error(err))
		if gen == s.generation && s.autoMode {
			delay, state := s.delayFor(reason)
			s.state = state
			s.scheduleLocked(delay, PendingRotate, s.rotateFromTimer)
		} else {
			s.state = StateIdle
		}
		return
	}
	s.signal.Message = fmt.Sprintf("Executed %s %s @ %.6g", pos.Side, symbol, pos.EntryPrice)
	s.startDwellLocked(gen)
}

// evaluate runs the gate, builds the per-timeframe snapshots, asks for a
// decision and validates it. It takes no scheduler locks.
func (s *ScanScheduler) evaluate(ctx context.Context, symbol string) scanOutcome {
	now := s.timeNow()
	candles := s.market.Candles(symbol, s.cfg.Interval)
	price := s.executionPrice(symbol, candles)

	var position *domain.Position
	if p, ok := s.positions.Ledger().Position(symbol); ok {
		position = &p
	}

	admit := s.gate.Admit(GateInput{Position: position, LivePrice: price, HasData: len(candles) > 0})
	switch admit.Reason {
	case ReasonActivePosition:
		return scanOutcome{
			reason: admit.Reason,
			status: SignalStatus{
				Action:     domain.ActionHold,
				Confidence: 100,
				Leverage:   position.Leverage,
				Reasoning:  fmt.Sprintf("Managing %s position. Floating PnL %.2f USDT", position.Side, admit.FloatingPnL),
				StopLoss:   position.StopLoss,
				TakeProfit: position.TakeProfit,
				Message:    "monitoring position",
				Timestamp:  now,
			},
		}
	case ReasonRateLimited:
		return scanOutcome{
			reason: admit.Reason,
			delay:  admit.Wait,
			status: SignalStatus{
				Action:    domain.ActionWait,
				Reasoning: fmt.Sprintf("Cooling down. Next scan in %.1fs", admit.Wait.Seconds()),
				Message:   "cooling down",
				Timestamp: now,
			},
		}
	case ReasonNoData:
		return scanOutcome{
			reason: admit.Reason,
			status: SignalStatus{
				Action:    domain.ActionWait,
				Reasoning: fmt.Sprintf("No market data for %s. Moving on", symbol),
				Message:   "no data",
				Timestamp: now,
			},
		}
	}

	frames, err := s.collectFrames(ctx, symbol, candles)
	if err != nil {
		reason := ReasonHistoryFailed
		if errors.Is(err, domain.ErrInsufficientHistory) {
			reason = ReasonNoData
		}
		s.logger.Warn("Indicators unavailable", zap.String("symbol", symbol), zap.Error(err))
		return scanOutcome{
			reason: reason,
			status: SignalStatus{
				Action:    domain.ActionWait,
				Reasoning: "Not enough history for multi-timeframe analysis",
				Message:   "indicators unavailable",
				Timestamp: now,
			},
		}
	}

	req := domain.SignalRequest{
		Symbol:  symbol,
		Frames:  frames,
		Balance: s.positions.Ledger().Balance(),
		History: s.positions.Ledger().RecentHistory(s.cfg.HistoryContext),
	}
	sctx, cancel := context.WithTimeout(ctx, s.cfg.SignalTimeout)
	started := time.Now()
	decision, err := s.signals.GenerateSignal(sctx, req)
	cancel()
	if err == nil && decision == nil {
		err = domain.ErrSignalUnavailable
	}
	if err != nil {
		status, reason := "error", ReasonSignalFailed
		reasoning := "Signal generation failed. Rotating"
		if errors.Is(err, domain.ErrSignalRateLimited) {
			status, reason = "rate_limited", ReasonSignalThrottled
			reasoning = fmt.Sprintf("Signal quota exhausted. Pausing %s", s.cfg.RateLimitCooldown)
		}
		metrics.SignalRequestDuration.WithLabelValues(status).Observe(time.Since(started).Seconds())
		s.logger.Warn("Signal generation failed", zap.String("symbol", symbol), zap.Error(err))
		return scanOutcome{
			reason: reason,
			frames: frames,
			status: SignalStatus{Action: domain.ActionWait, Leverage: 1, Reasoning: reasoning, Message: string(reason), Timestamp: now},
		}
	}
	metrics.SignalRequestDuration.WithLabelValues("ok").Observe(time.Since(started).Seconds())

	decision.Normalize()
	if decision.QuantMetrics == nil {
		decision.QuantMetrics = frames[s.cfg.Interval].QuantMetrics()
	}
	if decision.Timestamp.IsZero() {
		decision.Timestamp = now
	}

	status := SignalStatus{
		Action:       decision.Action,
		Confidence:   decision.Confidence,
		Leverage:     decision.Leverage,
		Reasoning:    decision.Reasoning,
		StopLoss:     decision.StopLoss,
		TakeProfit:   decision.TakeProfit,
		QuantMetrics: decision.QuantMetrics,
		Timestamp:    decision.Timestamp,
	}

	// Prefer the live ticker, it may have moved during the signal call.
	price = s.executionPrice(symbol, candles)
	vr := s.gate.Validate(decision, price)
	switch vr.Reason {
	case ReasonLowConfidence:
		status.Message = fmt.Sprintf("low confidence: %.0f%%", decision.Confidence)
		status.Reasoning = fmt.Sprintf("[OMITTED: confidence below %.0f%%] %s", s.gate.cfg.ConfidenceFloor, status.Reasoning)
	case ReasonInvalidTargets:
		status.Message = "invalid targets"
	case ReasonExecute:
		status.StopLoss = vr.Order.StopLoss
		if vr.Order.StopWidened {
			status.Message = "stop widened"
		}
	}
	return scanOutcome{reason: vr.Reason, status: status, frames: frames, order: vr.Order}
}

// executionPrice is the last live price, else the last candle close.
func (s *ScanScheduler) executionPrice(symbol string, candles []domain.Candle) float64 {
	if p, ok := s.market.LastPrice(symbol); ok && p > 0 {
		return p
	}
	if len(candles) > 0 {
		return candles[len(candles)-1].Close
	}
	return 0
}

// collectFrames snapshots the primary timeframe from the live buffer and
// fetches the higher timeframes.
func (s *ScanScheduler) collectFrames(ctx context.Context, symbol string, primary []domain.Candle) (map[string]domain.IndicatorSnapshot, error) {
	frames := make(map[string]domain.IndicatorSnapshot, 1+len(s.cfg.FrameIntervals))
	snap, err := s.engine.Snapshot(symbol, s.cfg.Interval, primary)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", symbol, s.cfg.Interval, err)
	}
	frames[s.cfg.Interval] = snap

	for _, interval := range s.cfg.FrameIntervals {
		fctx, cancel := context.WithTimeout(ctx, s.cfg.HistoryTimeout)
		candles, err := s.market.FetchCandles(fctx, symbol, interval, s.cfg.FrameLimit)
		cancel()
		if err != nil {
			return nil, err
		}
		snap, err := s.engine.Snapshot(symbol, interval, candles)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", symbol, interval, err)
		}
		frames[interval] = snap
	}
	for k, v := range frames {
		if math.IsNaN(v.BBWidthPct) {
			return nil, fmt.Errorf("%s %s: %w", symbol, k, domain.ErrInsufficientHistory)
		}
	}
	return frames, nil
}

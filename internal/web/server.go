package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitos/crypto_paper_agent/internal/usecase"
	"go.uber.org/zap"
)

type Server struct {
	router    *http.ServeMux
	server    *http.Server
	scheduler *usecase.ScanScheduler
	positions *usecase.PositionManager
	market    *usecase.MarketService
	logger    *zap.Logger
}

func NewServer(
	port int,
	scheduler *usecase.ScanScheduler,
	positions *usecase.PositionManager,
	market *usecase.MarketService,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:    http.NewServeMux(),
		scheduler: scheduler,
		positions: positions,
		market:    market,
		logger:    logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Engine
	s.router.HandleFunc("GET /api/state", s.handleState)
	s.router.HandleFunc("POST /api/scan", s.handleScan)
	s.router.HandleFunc("POST /api/auto", s.handleAutoMode)
	s.router.HandleFunc("POST /api/symbol", s.handleSelectSymbol)

	// Account
	s.router.HandleFunc("GET /api/portfolio", s.handlePortfolio)
	s.router.HandleFunc("GET /api/history", s.handleHistory)
	s.router.HandleFunc("POST /api/positions/{symbol}/close", s.handleClosePosition)
	s.router.HandleFunc("POST /api/reset", s.handleReset)

	// Market
	s.router.HandleFunc("GET /api/candles", s.handleCandles)
	s.router.HandleFunc("GET /api/ticker", s.handleTicker)
	s.router.HandleFunc("GET /api/orderbook", s.handleOrderBook)

	s.router.Handle("GET /metrics", promhttp.Handler())
	s.router.HandleFunc("GET /healthz", s.handleHealth)
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

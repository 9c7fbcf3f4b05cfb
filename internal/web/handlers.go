package web

import (
	"net/http"
	"strings"

	"github.com/vitos/crypto_paper_agent/internal/domain"
)

type positionView struct {
	domain.Position
	MarkPrice   float64 `json:"markPrice,omitempty"`
	FloatingPnL float64 `json:"floatingPnl"`
}

type portfolioResponse struct {
	Equity    domain.Equity  `json:"equity"`
	Positions []positionView `json:"positions"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.scheduler.State())
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	ledger := s.positions.Ledger()
	resp := portfolioResponse{
		Equity:    ledger.Equity(s.market.LastPrice),
		Positions: []positionView{},
	}
	for _, p := range ledger.Positions() {
		view := positionView{Position: p}
		if price, ok := s.market.LastPrice(p.Symbol); ok {
			view.MarkPrice = price
			view.FloatingPnL = p.FloatingPnL(price)
		}
		resp.Positions = append(resp.Positions, view)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history := s.positions.Ledger().History()
	if history == nil {
		history = []domain.TradeResult{}
	}
	s.writeJSON(w, http.StatusOK, history)
}

// symbolParam falls back to the active symbol when the query omits it.
func (s *Server) symbolParam(r *http.Request) string {
	if symbol := strings.ToUpper(r.URL.Query().Get("symbol")); symbol != "" {
		return symbol
	}
	return s.scheduler.State().ActiveSymbol
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	interval := r.URL.Query().Get("interval")
	if interval == "" {
		interval = domain.Interval1m
	}
	s.writeJSON(w, http.StatusOK, s.market.Candles(s.symbolParam(r), interval))
}

func (s *Server) handleTicker(w http.ResponseWriter, r *http.Request) {
	symbol := s.symbolParam(r)
	ticker, ok := s.market.Ticker(symbol)
	if !ok {
		http.Error(w, "No ticker for "+symbol, http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, ticker)
}

func (s *Server) handleOrderBook(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.market.OrderBook())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
}

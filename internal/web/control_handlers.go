package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/vitos/crypto_paper_agent/internal/domain"
	"github.com/vitos/crypto_paper_agent/internal/usecase"
	"go.uber.org/zap"
)

type autoModeRequest struct {
	Enabled *bool `json:"enabled"`
}

type symbolRequest struct {
	Symbol string `json:"symbol"`
}

// handleScan runs a scan of the active symbol. Outside autonomous mode the
// decision is only reported.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	state, err := s.scheduler.ScanNow()
	switch {
	case errors.Is(err, usecase.ErrScanInProgress), errors.Is(err, usecase.ErrExecutionLocked):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		s.logger.Error("Manual scan failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleAutoMode(w http.ResponseWriter, r *http.Request) {
	var req autoModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// Without a body value the mode flips.
	if req.Enabled == nil {
		s.scheduler.ToggleAutoMode()
	} else {
		s.scheduler.SetAutoMode(*req.Enabled)
	}
	s.writeJSON(w, http.StatusOK, s.scheduler.State())
}

func (s *Server) handleSelectSymbol(w http.ResponseWriter, r *http.Request) {
	var req symbolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Symbol == "" {
		http.Error(w, "Symbol is required", http.StatusBadRequest)
		return
	}
	if err := s.scheduler.SetActiveSymbol(strings.ToUpper(req.Symbol)); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, s.scheduler.State())
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))
	result, err := s.positions.ManualClose(r.Context(), symbol)
	switch {
	case errors.Is(err, domain.ErrPositionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, domain.ErrNoLivePrice):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		s.logger.Error("Failed to close position", zap.String("symbol", symbol), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.ResetAccount(r.Context()); err != nil {
		s.logger.Error("Failed to reset account", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, s.positions.Ledger().Equity(s.market.LastPrice))
}

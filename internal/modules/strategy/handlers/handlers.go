// Package handlers provides HTTP handlers for strategy operations.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/WAE505/Momentum/internal/modules/strategy"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// StrategyService is the part of the strategy service the handlers use.
type StrategyService interface {
	CurrentSignals(ctx context.Context) (strategy.SignalSnapshot, error)
	SignalHistory(ctx context.Context) ([]strategy.HistoryPoint, error)
	CurrentAllocation(ctx context.Context) (strategy.AllocationSnapshot, error)
	RunBacktest(ctx context.Context, params strategy.BacktestParams) (*strategy.RunResult, error)
}

// Handler handles strategy HTTP requests.
type Handler struct {
	service StrategyService
	log     zerolog.Logger
}

// NewHandler creates a new strategy handler.
func NewHandler(service StrategyService, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "strategy").Logger(),
	}
}

// RegisterRoutes registers all strategy routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/signals", func(r chi.Router) {
		r.Get("/current", h.HandleCurrentSignals)
		r.Get("/history", h.HandleSignalHistory)
	})
	r.Get("/allocation/current", h.HandleCurrentAllocation)
	r.Post("/backtest", h.HandleBacktest)
}

// HandleCurrentSignals handles GET /api/signals/current
func (h *Handler) HandleCurrentSignals(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.service.CurrentSignals(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to compute current signals")
		http.Error(w, "Failed to compute signals", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": snapshot,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleSignalHistory handles GET /api/signals/history
func (h *Handler) HandleSignalHistory(w http.ResponseWriter, r *http.Request) {
	points, err := h.service.SignalHistory(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to compute signal history")
		http.Error(w, "Failed to compute signal history", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"history": points,
			"count":   len(points),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleCurrentAllocation handles GET /api/allocation/current
func (h *Handler) HandleCurrentAllocation(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.service.CurrentAllocation(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to compute allocation")
		http.Error(w, "Failed to compute allocation", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": snapshot,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleBacktest handles POST /api/backtest
func (h *Handler) HandleBacktest(w http.ResponseWriter, r *http.Request) {
	var params strategy.BacktestParams
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			h.log.Error().Err(err).Msg("Failed to decode request body")
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	if params.InitialValue != nil && *params.InitialValue <= 0 {
		http.Error(w, "initial_value must be greater than 0", http.StatusBadRequest)
		return
	}

	result, err := h.service.RunBacktest(r.Context(), params)
	if err != nil {
		h.log.Error().Err(err).Msg("Backtest failed")
		http.Error(w, "Backtest failed: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": result,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

// Package handlers provides HTTP handlers for market data operations.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/WAE505/Momentum/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// DataService is the part of the market data service the handlers use.
type DataService interface {
	GetDataset(ctx context.Context) (domain.Dataset, error)
	Refresh(ctx context.Context) (domain.Dataset, error)
}

// Handler handles market data HTTP requests.
type Handler struct {
	service DataService
	log     zerolog.Logger
}

// NewHandler creates a new market data handler.
func NewHandler(service DataService, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "marketdata").Logger(),
	}
}

// RegisterRoutes registers all market data routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/historical/prices", h.HandleHistoricalPrices)
	r.Post("/data/refresh", h.HandleRefresh)
}

// pricesRow is one month of the dataset in the wire format.
type pricesRow struct {
	Date     string  `json:"date"`
	Equity   float64 `json:"equity"`
	Bond     float64 `json:"bond"`
	Gold     float64 `json:"gold"`
	Cash     float64 `json:"cash"`
	CashRate float64 `json:"cash_rate"`
}

// HandleHistoricalPrices handles GET /api/historical/prices
func (h *Handler) HandleHistoricalPrices(w http.ResponseWriter, r *http.Request) {
	dataset, err := h.service.GetDataset(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get dataset")
		http.Error(w, "Failed to load market data", http.StatusInternalServerError)
		return
	}

	rows := make([]pricesRow, dataset.Len())
	for i, date := range dataset.Dates {
		rows[i] = pricesRow{
			Date:     date.Format("2006-01-02"),
			Equity:   dataset.Equity[i],
			Bond:     dataset.Bond[i],
			Gold:     dataset.Gold[i],
			Cash:     dataset.Cash[i],
			CashRate: dataset.CashRate[i],
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"prices": rows,
			"count":  len(rows),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleRefresh handles POST /api/data/refresh
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	dataset, err := h.service.Refresh(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Refresh failed")
		http.Error(w, "Refresh failed", http.StatusBadGateway)
		return
	}

	var first, last string
	if dataset.Len() > 0 {
		first = dataset.Dates[0].Format("2006-01-02")
		last = dataset.Dates[dataset.Len()-1].Format("2006-01-02")
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"months": dataset.Len(),
			"first":  first,
			"last":   last,
		},
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

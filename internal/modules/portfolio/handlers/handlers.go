// Package handlers provides HTTP handlers for portfolio analytics.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/optifolio/internal/modules/market"
	"github.com/aristath/optifolio/internal/modules/portfolio"
)

// Handler handles portfolio HTTP requests
type Handler struct {
	market portfolio.MarketData
	log    zerolog.Logger
}

// NewHandler creates a new portfolio handler bound to a market data
// source.
func NewHandler(market portfolio.MarketData, log zerolog.Logger) *Handler {
	return &Handler{
		market: market,
		log:    log.With().Str("handler", "portfolio").Logger(),
	}
}

// RegisterRoutes registers all portfolio routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/portfolio", func(r chi.Router) {
		r.Post("/assets", h.HandleAssets)
		r.Post("/history", h.HandleHistory)
	})
}

// PortfolioRequest carries an explicit allocation for analytics calls.
// Tickers fix the universe order; Weights may omit zero positions.
type PortfolioRequest struct {
	Tickers   []string           `json:"tickers"`
	Weights   map[string]float64 `json:"weights"`
	StartDate string             `json:"start_date,omitempty"` // YYYY-MM-DD
	EndDate   string             `json:"end_date,omitempty"`
}

// HandleAssets handles POST /api/portfolio/assets
func (h *Handler) HandleAssets(w http.ResponseWriter, r *http.Request) {
	ptf, _, _, err := h.parse(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	assets, err := ptf.Assets()
	if err != nil {
		h.respondAnalyticsError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"assets": assets})
}

// HandleHistory handles POST /api/portfolio/history
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ptf, start, end, err := h.parse(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	points, err := ptf.History(start, end)
	if err != nil {
		h.respondAnalyticsError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"history":  points,
		"holdings": ptf.Holdings(),
	})
}

func (h *Handler) parse(r *http.Request) (*portfolio.Portfolio, time.Time, time.Time, error) {
	var req PortfolioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, time.Time{}, time.Time{}, fmt.Errorf("invalid request body")
	}
	if len(req.Tickers) == 0 {
		return nil, time.Time{}, time.Time{}, fmt.Errorf("tickers are required")
	}

	end := time.Now().UTC().Truncate(24 * time.Hour)
	if req.EndDate != "" {
		parsed, err := time.Parse("2006-01-02", req.EndDate)
		if err != nil {
			return nil, time.Time{}, time.Time{}, fmt.Errorf("invalid end_date %q", req.EndDate)
		}
		end = parsed
	}
	start := end.AddDate(-1, 0, 0)
	if req.StartDate != "" {
		parsed, err := time.Parse("2006-01-02", req.StartDate)
		if err != nil {
			return nil, time.Time{}, time.Time{}, fmt.Errorf("invalid start_date %q", req.StartDate)
		}
		start = parsed
	}

	ptf := portfolio.FromWeights(req.Tickers, req.Weights)
	ptf.SetMarketData(h.market)
	return ptf, start, end, nil
}

// respondAnalyticsError maps missing market data onto 409, empty
// portfolios onto 400, unknown securities onto 404, and data access
// failures onto 502.
func (h *Handler) respondAnalyticsError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, portfolio.ErrNoMarketData):
		h.writeError(w, http.StatusConflict, err)
	case errors.Is(err, portfolio.ErrNoPositions):
		h.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, market.ErrAssetNotFound):
		h.writeError(w, http.StatusNotFound, err)
	default:
		h.log.Error().Err(err).Msg("Portfolio analytics failed")
		h.writeError(w, http.StatusBadGateway, err)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

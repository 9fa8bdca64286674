// Package handlers provides HTTP handlers for universe management.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/optifolio/internal/modules/universe"
)

// Handler handles universe HTTP requests
type Handler struct {
	repo *universe.Repository
	log  zerolog.Logger
}

// NewHandler creates a new universe handler
func NewHandler(repo *universe.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		repo: repo,
		log:  log.With().Str("handler", "universe").Logger(),
	}
}

// RegisterRoutes registers all universe routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/universes", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Get("/{name}", h.HandleGet)
		r.Put("/{name}", h.HandleSave)
	})
}

// HandleList handles GET /api/universes
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	names, err := h.repo.List()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list universes")
		h.writeError(w, http.StatusInternalServerError, "failed to list universes")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"universes": names})
}

// HandleGet handles GET /api/universes/{name}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	u, err := h.repo.Resolve(name)
	if err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":    name,
		"tickers": u.Tickers(),
	})
}

// saveRequest is the PUT body for storing a named universe.
type saveRequest struct {
	Tickers []string `json:"tickers"`
}

// HandleSave handles PUT /api/universes/{name}
func (h *Handler) HandleSave(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	u, err := universe.New(req.Tickers)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.repo.Save(name, u); err != nil {
		h.log.Error().Err(err).Str("name", name).Msg("Failed to save universe")
		h.writeError(w, http.StatusInternalServerError, "failed to save universe")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":    name,
		"tickers": u.Tickers(),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

// Package handlers provides HTTP handlers for optimization operations.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/optifolio/internal/modules/optimization"
)

// Handler handles optimization HTTP requests
type Handler struct {
	service *optimization.Service
	log     zerolog.Logger
}

// NewHandler creates a new optimization handler
func NewHandler(service *optimization.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "optimization").Logger(),
	}
}

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error       string   `json:"error"`
	Status      string   `json:"status,omitempty"` // solve status for solver failures
	Objectives  []string `json:"objectives,omitempty"`
	Constraints []string `json:"constraints,omitempty"`
}

// HandleSolve handles POST /api/optimization/solve
func (h *Handler) HandleSolve(w http.ResponseWriter, r *http.Request) {
	var req optimization.SolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Error().Err(err).Msg("Failed to decode solve request")
		h.writeError(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	started := time.Now()
	resp, err := h.service.Solve(r.Context(), req)
	if err != nil {
		h.respondSolveError(w, err)
		return
	}

	h.log.Info().
		Str("run_id", resp.RunID).
		Int("positions", resp.Weights.Len()).
		Bool("cached", resp.Cached).
		Dur("elapsed", time.Since(started)).
		Msg("Solve completed")

	h.writeJSON(w, http.StatusOK, resp)
}

// HandleListObjectives handles GET /api/optimization/objectives
func (h *Handler) HandleListObjectives(w http.ResponseWriter, r *http.Request) {
	names := h.service.ObjectiveNames()
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"objectives": out})
}

// HandleListConstraints handles GET /api/optimization/constraints
func (h *Handler) HandleListConstraints(w http.ResponseWriter, r *http.Request) {
	names := h.service.ConstraintNames()
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"constraints": out})
}

// respondSolveError maps service errors onto HTTP statuses: catalog and
// request mistakes are 400, solver failures are 422, market data
// problems are 502.
func (h *Handler) respondSolveError(w http.ResponseWriter, err error) {
	var solveErr *optimization.SolveError
	if errors.As(err, &solveErr) {
		status := http.StatusUnprocessableEntity
		if solveErr.Status == optimization.StatusSolverError {
			status = http.StatusBadGateway
		}
		h.writeError(w, status, errorResponse{
			Error:       solveErr.Error(),
			Status:      string(solveErr.Status),
			Objectives:  objectiveStrings(solveErr.Objectives),
			Constraints: constraintStrings(solveErr.Constraints),
		})
		return
	}

	switch {
	case errors.Is(err, optimization.ErrUnknownObjective),
		errors.Is(err, optimization.ErrUnknownConstraint),
		errors.Is(err, optimization.ErrMalformedBounds),
		errors.Is(err, optimization.ErrInvalidRequest):
		h.writeError(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		// Universe resolution and risk input construction failures mean
		// the market side could not serve the request.
		h.log.Error().Err(err).Msg("Solve failed before reaching the solver")
		h.writeError(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, body errorResponse) {
	h.writeJSON(w, status, body)
}

func objectiveStrings(names []optimization.ObjectiveName) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	return out
}

func constraintStrings(names []optimization.ConstraintName) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	return out
}

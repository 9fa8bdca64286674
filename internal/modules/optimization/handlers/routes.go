package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all optimization routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/optimization", func(r chi.Router) {
		r.Post("/solve", h.HandleSolve)
		r.Get("/objectives", h.HandleListObjectives)
		r.Get("/constraints", h.HandleListConstraints)
	})
}

package handlers

import (
	"github.com/go-chi/chi/v5"

	"github.com/diagnosis/lenslink/pkg/auth"
)

// Routes mounts the public /v1 surface. Session routes are rejected at the
// edge without a valid token; the sessions service checks roles and parties.
func (h *Handlers) Routes(r chi.Router, jwtSecret string) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/payments/webhook", h.StripeWebhook)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireJWT(jwtSecret))
			r.HandleFunc("/*", h.Sessions)
		})
	})
}

/**
 * @description
 * HTTP router setup for the billing service using go-chi/chi.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers billing routes.
func NewRouter(h *Handler, webhook *WebhookHandler, jwtSecret, internalKey string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Internal-API-Key", "X-Gateway-Signature"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Billing service is healthy"))
	})

	r.Method(http.MethodPost, "/webhooks/payments", webhook)

	r.Route("/internal/billing", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalKey))
		r.Post("/sweep/run", h.handleRunSweep)
		r.Post("/subscriptions/{id}/charge", h.handleChargeSubscription)
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret))
		r.Get("/billing/plans", h.handleListPlans)
		r.Get("/billing/subscription", h.handleGetStatus)
		r.Post("/billing/subscription", h.handleSubscribe)
		r.Post("/billing/subscription/cancel", h.handleCancel)
	})

	return r
}

// Package api wires the chi router: middleware stack, CORS, rate limiting,
// and the session-scoped routes.
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	corslib "github.com/rs/cors"

	"github.com/mrktfy/prospector/internal/api/handler"
	"github.com/mrktfy/prospector/internal/config"
	"github.com/mrktfy/prospector/internal/engine"
	"github.com/mrktfy/prospector/internal/kv"
)

// NewRouter creates and configures the Chi router with all middleware and routes.
func NewRouter(manager *engine.Manager, kvStore kv.Store, cfg *config.Config) *chi.Mux {
	r := chi.NewRouter()

	// --- Middleware stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(TimingMiddleware)
	r.Use(middleware.Compress(5)) // gzip

	// CORS
	c := corslib.New(corslib.Options{
		AllowedOrigins:   cfg.CORSAllowOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Encoding", "Content-Type", "Cache-Control"},
		ExposedHeaders:   []string{"X-Process-Time", "Retry-After"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)

	// Rate limiting
	if cfg.RateLimitEnabled {
		r.Use(RateLimitMiddleware(cfg.RateLimitRequests, cfg.RateLimitWindow))
	}

	// --- Handler dependencies ---
	h := handler.New(manager, kvStore, cfg)

	// --- Routes ---

	// Root
	r.Get("/", h.Root)

	// Health checks
	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.HealthCheck)
		r.Get("/db", h.HealthCheckDB)
	})

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/sessions/{userID}", func(r chi.Router) {
			// Event intake
			r.Post("/location", h.PostLocation)
			r.Post("/listing-view", h.PostListingView)
			r.Post("/engagement", h.PostEngagement)

			// Session settings
			r.Put("/app-state", h.PutAppState)
			r.Put("/tier", h.PutTier)
			r.Put("/criteria", h.PutCriteria)

			// Stats
			r.Get("/stats", h.GetStats)

			// Notification log
			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", h.GetNotifications)
				r.Delete("/", h.DeleteAllNotifications)
				r.Get("/unread-count", h.GetUnreadCount)
				r.Post("/read-all", h.PostMarkAllRead)
				r.Post("/{id}/read", h.PostMarkRead)
				r.Post("/{id}/interaction", h.PostInteraction)
				r.Delete("/{id}", h.DeleteNotification)
			})
		})
	})

	return r
}

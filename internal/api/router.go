package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/api/handlers"
	apimiddleware "github.com/InfoSecJay/threat-detection-explorer-sub000/internal/api/middleware"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/config"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/internal/infrastructure/cache"
	"github.com/InfoSecJay/threat-detection-explorer-sub000/pkg/logger"
)

// Router holds dependencies for the API router
type Router struct {
	config   config.Config
	handlers *handlers.Handlers
	cache    *cache.RedisCache
	logger   *logger.Logger
}

// NewRouter creates a new Router instance
func NewRouter(cfg config.Config, h *handlers.Handlers, c *cache.RedisCache, log *logger.Logger) *Router {
	return &Router{
		config:   cfg,
		handlers: h,
		cache:    c,
		logger:   log.WithComponent("router"),
	}
}

// Setup sets up the Chi router with all routes and middleware
func (r *Router) Setup() http.Handler {
	router := chi.NewRouter()

	// Core middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(apimiddleware.Logger(r.logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   r.config.CORS.AllowedOrigins,
		AllowedMethods:   r.config.CORS.AllowedMethods,
		AllowedHeaders:   r.config.CORS.AllowedHeaders,
		AllowCredentials: r.config.CORS.AllowCredentials,
		MaxAge:           r.config.CORS.MaxAge,
	}))

	// Rate limiting
	if r.config.RateLimit.Enabled && r.cache != nil {
		router.Use(apimiddleware.RateLimiter(r.cache, r.config.RateLimit))
	}

	// Health probes
	router.Get("/health", r.handlers.Health.Health)
	router.Get("/ready", r.handlers.Health.Ready)

	// API v1 routes
	router.Route("/api/v1", func(api chi.Router) {
		// Detection search and retrieval
		api.Route("/detections", func(det chi.Router) {
			det.Get("/", r.handlers.Detections.List)
			det.Get("/filters", r.handlers.Detections.Filters)
			det.Get("/{id}", r.handlers.Detections.Get)
		})

		// Coverage comparison
		api.Route("/compare", func(cmp chi.Router) {
			cmp.Get("/coverage-matrix", r.handlers.Compare.CoverageMatrix)
			cmp.Get("/coverage-gap", r.handlers.Compare.CoverageGap)
			cmp.Get("/side-by-side", r.handlers.Compare.SideBySide)
		})

		// Export
		api.Post("/export", r.handlers.Export.Export)

		// ATT&CK taxonomy
		api.Route("/mitre", func(mitre chi.Router) {
			mitre.Get("/tactics", r.handlers.MITRE.ListTactics)
			mitre.Get("/tactics/{id}", r.handlers.MITRE.GetTactic)
			mitre.Get("/techniques", r.handlers.MITRE.ListTechniques)
			mitre.Get("/techniques/{id}", r.handlers.MITRE.GetTechnique)
			mitre.Get("/stats", r.handlers.MITRE.Stats)
		})

		// Aggregate statistics
		api.Get("/stats", r.handlers.Stats.Stats)

		// Manual repository sync
		api.Post("/ingestion/sync", r.handlers.Ingestion.Sync)
	})

	return router
}

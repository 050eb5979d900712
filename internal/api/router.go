// Package api serves the drop-in schedule over HTTP.
//
// Routes:
//
//	GET /api/schedule   filtered, paginated schedule rows
//	GET /api/filters    distinct sports, locations and days
//	GET /healthz        artifact readability
//	GET /metrics        Prometheus exposition, when configured
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// Config tunes the router. Zero values disable the optional parts.
type Config struct {
	Logger *zap.SugaredLogger

	// CacheTTL > 0 enables the schedule result cache.
	CacheTTL time.Duration
	// RateLimit > 0 enables per-IP limiting at RateLimit requests/second.
	RateLimit float64
	RateBurst int

	CORSOrigins []string
	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler

	Now func() time.Time
}

// NewRouter wires the API routes over engine.
func NewRouter(engine Engine, cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	h := &handlers{
		engine:  engine,
		logger:  cfg.Logger,
		now:     cfg.Now,
		started: cfg.Now(),
	}
	if cfg.CacheTTL > 0 {
		h.results = cache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(accessLog(cfg.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", HeaderRequestID},
		ExposedHeaders: []string{HeaderRequestID},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.health)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		if cfg.RateLimit > 0 {
			r.Use(newIPLimiter(cfg.RateLimit, cfg.RateBurst).middleware)
		}
		r.Get("/schedule", h.schedule)
		r.Get("/filters", h.filters)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondWithError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondWithError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Package server exposes the radar's HTTP API: job queries, stats,
// run control and retention cleanup.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/jobradar/internal/pipeline"
	"github.com/sells-group/jobradar/internal/store"
)

// Config holds the API surface knobs.
type Config struct {
	// AllowedOrigins feeds CORS; empty means allow any origin.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`

	// RetentionDays is the default purge window when the request does
	// not name one.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days"`
}

func (c Config) withDefaults() Config {
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 14
	}
	return c
}

// Server wires the store and the run manager behind HTTP handlers.
type Server struct {
	store   store.Store
	runner  *pipeline.Runner
	trigger pipeline.RunFunc

	// runCtx parents background runs so they outlive the request that
	// started them; it is the process's signal context.
	runCtx context.Context

	cfg Config
}

// New creates a Server. trigger is the full pass (fetch + classify)
// executed when a run is started over the API.
func New(runCtx context.Context, st store.Store, runner *pipeline.Runner, trigger pipeline.RunFunc, cfg Config) *Server {
	return &Server{
		store:   st,
		runner:  runner,
		trigger: trigger,
		runCtx:  runCtx,
		cfg:     cfg.withDefaults(),
	}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/jobs", s.handleListJobs)
		r.Delete("/jobs", s.handlePurgeJobs)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Get("/stats", s.handleStats)
		r.Post("/runs", s.handleStartRun)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Post("/runs/{id}/cancel", s.handleCancelRun)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		zap.L().Info("server: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("server: encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

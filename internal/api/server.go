package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobhunt-agent/internal/agent"
	"github.com/JakeFAU/jobhunt-agent/internal/config"
	"github.com/JakeFAU/jobhunt-agent/internal/metrics"
	"github.com/JakeFAU/jobhunt-agent/internal/progress/sinks"
	"github.com/JakeFAU/jobhunt-agent/internal/storage"
	"github.com/JakeFAU/jobhunt-agent/internal/store"
)

const defaultRequestTimeout = 30 * time.Second

// Runner prepares and launches runs; *dispatcher.Dispatcher satisfies it.
type Runner interface {
	Prepare(params agent.Params) (*agent.Run, error)
	Launch(ctx context.Context, run *agent.Run) error
	Release(run *agent.Run)
	Stop(id string) error
}

// ReadinessCheck reports whether a downstream dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Deps are the collaborators behind the routes. History and Checks are
// optional.
type Deps struct {
	Runs    Runner
	Stream  *sinks.StreamSink
	Files   storage.Store
	History store.RunRepository
	Checks  map[string]ReadinessCheck
	Logger  *zap.Logger
}

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router   chi.Router
	deps     Deps
	validate *validator.Validate
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		deps:     deps,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.Named("api"),
	}
	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(recoverer(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	history := NewRunsHandler(deps.History, s.logger)
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(requireAPIKey(cfg.Auth.APIKey))
		}
		// The stream lives as long as its run, so it is exempt from the
		// request timeout.
		r.Get("/stream", s.stream)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(timeout))
			r.Get("/download/{filename}", s.download)
			r.Get("/runs", history.ListRuns)
			r.Get("/runs/{run_id}", history.GetRun)
			r.Post("/runs/{run_id}/stop", s.stopRun)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failed := map[string]string{}
	for name, check := range s.deps.Checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

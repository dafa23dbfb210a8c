package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/CMoncur/proto-scrape/internal/id/uuid"
	"github.com/CMoncur/proto-scrape/internal/metrics"
	"github.com/CMoncur/proto-scrape/internal/pipeline"
	"github.com/CMoncur/proto-scrape/internal/site"
)

// Runner executes one adapter.
type Runner interface {
	Run(ctx context.Context, a site.Adapter) (pipeline.Summary, error)
}

// ReadyFunc reports whether downstream dependencies are usable.
type ReadyFunc func(ctx context.Context) error

// Config controls Server behavior.
type Config struct {
	// APIKey, when set, is required on every /v1 request.
	APIKey string
	// RunTimeout bounds one triggered run. Zero leaves it to the client.
	RunTimeout time.Duration
	Deps       site.Deps
	Ready      ReadyFunc
}

// AdapterInfo describes one registered adapter.
type AdapterInfo struct {
	Name       string   `json:"name"`
	Table      string   `json:"table"`
	NaturalKey []string `json:"natural_key"`
}

// Server wires HTTP handlers to the runner and registry.
type Server struct {
	router   chi.Router
	runner   Runner
	registry *site.Registry
	cfg      Config
	logger   *zap.Logger
	ids      *uuid.Generator

	mu      sync.Mutex
	running map[string]struct{}
}

// NewServer constructs a Server with middleware and routes.
func NewServer(runner Runner, registry *site.Registry, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{
		runner:   runner,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
		ids:      uuid.New(),
		running:  make(map[string]struct{}),
	}
	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Get("/adapters", s.listAdapters)
		r.Post("/runs/{adapter}", s.triggerRun)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Ready != nil {
		if err := s.cfg.Ready(r.Context()); err != nil {
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listAdapters(w http.ResponseWriter, _ *http.Request) {
	names := s.registry.Names()
	out := make([]AdapterInfo, 0, len(names))
	for _, name := range names {
		a, err := s.registry.New(name, s.cfg.Deps)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out = append(out, AdapterInfo{Name: name, Table: a.Table().Name, NaturalKey: a.NaturalKey()})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"adapters": out})
}

func (s *Server) triggerRun(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "adapter")
	a, err := s.registry.New(name, s.cfg.Deps)
	if errors.Is(err, site.ErrUnknownAdapter) {
		s.writeError(w, http.StatusNotFound, "adapter not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !s.claim(name) {
		s.writeError(w, http.StatusConflict, "run already in progress")
		return
	}
	defer s.unclaim(name)

	ctx := r.Context()
	if s.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
		defer cancel()
	}
	summary, err := s.runner.Run(ctx, a)
	if err != nil {
		s.logger.Error("triggered run failed",
			zap.String("adapter", name),
			zap.String("request_id", requestID(r.Context())),
			zap.Error(err),
		)
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "summary": summary})
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) claim(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.running[name]; busy {
		return false
	}
	s.running[name] = struct{}{}
	return true
}

func (s *Server) unclaim(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, name)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/edvin/relayfleet/internal/api/handler"
	mw "github.com/edvin/relayfleet/internal/api/middleware"
)

// Pinger is a dependency checked by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	router   chi.Router
	logger   zerolog.Logger
	sync     handler.SyncService
	selector handler.NodeSelector
	checks   map[string]Pinger
	token    string
}

// NewServer wires the router. checks are keyed by the name reported in
// /readyz. An empty token leaves the fleet routes unauthenticated.
func NewServer(logger zerolog.Logger, sync handler.SyncService, selector handler.NodeSelector, checks map[string]Pinger, token string) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		logger:   logger,
		sync:     sync,
		selector: selector,
		checks:   checks,
		token:    token,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	nodeSync := handler.NewNodeSync(s.sync)
	s.router.Route("/internal/v1/nodes/{nodeID}", func(r chi.Router) {
		r.Use(mw.BearerToken(s.token))

		r.Post("/register", nodeSync.Register)
		r.Get("/config", nodeSync.Config)
		r.Get("/users", nodeSync.Users)
		r.Post("/traffic", nodeSync.Traffic)
		r.Post("/status", nodeSync.Status)
		r.Post("/presence", nodeSync.Presence)
		r.Post("/egress-ip", nodeSync.EgressIP)
		r.Post("/invalidate", nodeSync.Invalidate)

		r.Get("/online", nodeSync.Online)
		r.Get("/bandwidth", nodeSync.Bandwidth)
		r.Get("/reports", nodeSync.Reports)
	})

	selection := handler.NewSelection(s.selector)
	s.router.Route("/v1", func(r chi.Router) {
		r.Use(mw.BearerToken(s.token))

		r.Post("/pools/{poolID}/select", selection.Select)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	for name, p := range s.checks {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
		} else {
			checks[name] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Package server wires the chi router of the snapbridge HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/3leaps/snapbridge/internal/server/handlers"
	"github.com/3leaps/snapbridge/internal/server/middleware"
	"github.com/3leaps/snapbridge/internal/server/response"
)

// Config holds listener settings.
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Dependencies are the services behind the routes. A nil API leaves only the
// health and version routes.
type Dependencies struct {
	API     *handlers.API
	Health  *handlers.HealthManager
	Version handlers.VersionInfo
}

// Server is the HTTP API server.
type Server struct {
	cfg    Config
	router chi.Router
	http   *http.Server
	log    *zap.Logger
}

// New builds the server and its routes.
func New(cfg Config, deps Dependencies, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Health == nil {
		deps.Health = handlers.NewHealthManager(deps.Version.Version)
	}
	s := &Server{cfg: cfg, log: log.Named("server")}
	s.router = newRouter(deps, s.log)
	s.http = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func newRouter(deps Dependencies, log *zap.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(log))
	r.Use(middleware.RecoveryWithLogger(log))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotFound, response.CodeNotFound, fmt.Sprintf("no route for %s", r.URL.Path), nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, response.CodeMethodNotAllowed,
			fmt.Sprintf("method %s not allowed on %s", r.Method, r.URL.Path), nil)
	})

	r.Get("/health", deps.Health.HealthHandler)
	r.Get("/health/live", deps.Health.LivenessHandler)
	r.Get("/version", handlers.VersionHandler(deps.Version))

	if api := deps.API; api != nil {
		r.Route("/snapshots", func(r chi.Router) {
			r.Get("/", api.ListSnapshots)
			r.Get("/{name}", api.GetSnapshot)
			r.Put("/{name}", api.CreateSnapshot)
		})
		r.Route("/restorations", func(r chi.Router) {
			r.Get("/", api.ListRestorations)
			r.Put("/", api.RequestRestoration)
			r.Get("/{id}", api.GetRestoration)
			r.Post("/{id}/complete", api.CompleteRestoration)
		})
	}
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Port returns the configured port.
func (s *Server) Port() int { return s.cfg.Port }

// Addr returns the listen address.
func (s *Server) Addr() string { return s.http.Addr }

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.log.Info("listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve %s: %w", s.http.Addr, err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Package api exposes the snapshot over HTTP: the dashboard read model,
// a health probe, and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"ssv-dashboard-api/internal/store"
)

// Options tune the HTTP listener.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Deps are the read-only collaborators the handlers close over.
type Deps struct {
	Cache             *store.Cache
	RefreshInterval   time.Duration
	Symbols           []string
	StakingConfigured bool
	FeeConfigured     bool
}

// Server wraps the configured http.Server.
type Server struct {
	srv    *http.Server
	logger zerolog.Logger
}

// New assembles the router and server.
func New(opts Options, deps Deps, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "api").Logger()

	r := chi.NewRouter()
	r.Use(Recover(logger))
	r.Use(RequestLogger(logger))
	r.Use(Metrics())

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", Health(deps))
	r.Route("/api", func(r chi.Router) {
		r.Get("/prices", Prices(deps))
	})

	return &Server{
		srv: &http.Server{
			Addr:         opts.Addr,
			Handler:      r,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
			IdleTimeout:  opts.IdleTimeout,
		},
		logger: logger,
	}
}

// Handler exposes the assembled router.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start blocks serving requests until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.srv.Addr).Msg("http server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

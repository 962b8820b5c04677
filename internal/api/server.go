// SPDX-License-Identifier: MIT

// Package api provides the HTTP surface of vidgate.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vidgate/vidgate/internal/config"
	"github.com/vidgate/vidgate/internal/log"
	"github.com/vidgate/vidgate/internal/relay"
	"github.com/vidgate/vidgate/internal/resolver"
	"github.com/vidgate/vidgate/internal/stats"
	"github.com/vidgate/vidgate/internal/store"
)

// Server wires the resolver, relay, counters and store behind the HTTP API.
type Server struct {
	cfg      config.Config
	resolver *resolver.Resolver
	relay    *relay.Relay
	counters *stats.Counters
	store    store.Store
	logger   zerolog.Logger

	httpServer *http.Server
}

// New constructs the API server and its router.
func New(cfg config.Config, res *resolver.Resolver, rl *relay.Relay, counters *stats.Counters, st store.Store) *Server {
	s := &Server{
		cfg:      cfg,
		resolver: res,
		relay:    rl,
		counters: counters,
		store:    st,
		logger:   log.WithComponent("api"),
	}

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.routes(),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      0, // streaming responses have no overall deadline
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s
}

// Handler returns the fully assembled router (exported for tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(recoverer)
	r.Use(requestID)
	r.Use(cors(s.cfg.AllowedOrigins))
	r.Use(accessLog)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	// Resolution is the expensive path; rate limit it per client IP.
	r.Group(func(r chi.Router) {
		if s.cfg.RateLimitPerMin > 0 {
			r.Use(httprate.Limit(
				s.cfg.RateLimitPerMin,
				time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
					respondError(w, http.StatusTooManyRequests, "too many requests")
				}),
			))
		}
		r.Post("/download", s.handleDownload)
	})

	r.Get("/proxy", s.handleProxy)
	r.Get("/stats", s.handleStats)
	r.Post("/admin/reset", s.handleReset)

	return r
}

// Start begins serving; it blocks until the listener closes.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

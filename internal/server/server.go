// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-pinvault.
//
// go-pinvault is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package server implements the go-pinvault status daemon: a small read-only
// HTTP API reporting biometric capability and PIN state, plus Prometheus
// metrics. It never prompts and never touches key material.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeremyhahn/go-pinvault/pkg/correlation"
	"github.com/jeremyhahn/go-pinvault/pkg/health"
	"github.com/jeremyhahn/go-pinvault/pkg/logging"
	"github.com/jeremyhahn/go-pinvault/pkg/metrics"
	"github.com/jeremyhahn/go-pinvault/pkg/ratelimit"
	"github.com/jeremyhahn/go-pinvault/pkg/vault"
)

// StatusProvider reports vault status. *vault.Vault implements it.
type StatusProvider interface {
	Status(ctx context.Context) (*vault.Status, error)
}

// LockoutProvider reports the remaining biometric lockout.
// *biometric.Authenticator implements it.
type LockoutProvider interface {
	LockoutRemaining() time.Duration
}

// Config contains configuration for the status server
type Config struct {
	// Listen is the TCP address to bind (default 127.0.0.1:8420)
	Listen string

	Status  StatusProvider
	Lockout LockoutProvider

	// Health runs the /readyz checks; nil means no checks
	Health *health.Checker

	// RateLimiter is applied to every route; nil disables rate limiting
	RateLimiter *ratelimit.Limiter

	// MetricsPath mounts the Prometheus handler; empty disables it
	MetricsPath string

	Version string
	Logger  *logging.Logger

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server is the status daemon
type Server struct {
	server   *http.Server
	handlers *handlers
	health   *health.Checker
	limiter  *ratelimit.Limiter
	logger   *logging.Logger
}

// New creates a Server. Call Start or Serve to accept connections.
func New(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Status == nil {
		return nil, fmt.Errorf("status provider is required")
	}

	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:8420"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = logging.DefaultLogger()
	}
	checker := cfg.Health
	if checker == nil {
		checker = health.NewChecker()
	}

	s := &Server{
		handlers: &handlers{
			status:  cfg.Status,
			lockout: cfg.Lockout,
			health:  checker,
			limiter: cfg.RateLimiter,
			version: cfg.Version,
			logger:  log,
		},
		health:  checker,
		limiter: cfg.RateLimiter,
		logger:  log,
	}

	s.server = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.setupRouter(cfg.MetricsPath),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	return s, nil
}

func (s *Server) setupRouter(metricsPath string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(s.RecoveryMiddleware())
	r.Use(correlation.Middleware)
	r.Use(s.LoggingMiddleware())
	r.Use(metrics.HTTPMiddleware)
	if s.limiter != nil {
		r.Use(ratelimit.Middleware(s.limiter))
	}

	r.Get("/healthz", s.handlers.live)
	r.Head("/healthz", s.handlers.live)
	r.Get("/readyz", s.handlers.ready)
	r.Get("/status", s.handlers.getStatus)

	if metricsPath != "" {
		r.Handle(metricsPath, promhttp.Handler())
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, errNotFound, http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, errMethodNotAllowed, http.StatusMethodNotAllowed)
	})
	return r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Stop.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("status server listening", "addr", ln.Addr().String())
	s.health.MarkStarted()
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down status server")
	s.health.MarkNotStarted()
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// Package web serves the action hub webhook: list, form and execute
// endpoints in front of the conversion and delivery pipeline.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/sheetdrop/internal/config"
	"github.com/JonMunkholm/sheetdrop/internal/core"
	"github.com/JonMunkholm/sheetdrop/internal/transfer"
	mw "github.com/JonMunkholm/sheetdrop/internal/web/middleware"
)

// Runner executes one delivery. *core.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, req core.Request) core.Result
}

// Server is the HTTP server for the webhook.
type Server struct {
	cfg        *config.Config
	pipeline   Runner
	limiter    *core.Limiter
	journal    core.Journal
	credential transfer.Credential
	router     *chi.Mux
	server     *http.Server
}

// NewServer wires routes and middleware. A nil journal records nothing.
func NewServer(cfg *config.Config, pipeline Runner, limiter *core.Limiter, journal core.Journal) *Server {
	if journal == nil {
		journal = core.NopJournal{}
	}
	s := &Server{
		cfg:      cfg,
		pipeline: pipeline,
		limiter:  limiter,
		journal:  journal,
		credential: transfer.Credential{
			PrivateKey: cfg.Transfer.PrivateKey,
			Password:   cfg.Transfer.Password,
		},
		router: chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
	s.router.Use(securityHeaders)

	if s.cfg.Rate.Enabled {
		s.router.Use(mw.RateLimit(s.cfg.Rate.RequestsPerMinute, rateWindow))
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// Operational endpoints stay unauthenticated for probes and scrapers.
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Group(func(r chi.Router) {
		r.Use(mw.HubToken(s.cfg.Security.HubSecret))

		r.Post("/", s.handleActionList)
		r.Post("/action_form", s.handleActionForm)
		r.With(
			s.executeRateLimit,
			middleware.RequestSize(s.cfg.Work.MaxPayloadBytes),
		).Post("/action_execute", s.handleActionExecute)

		r.Get("/deliveries", s.handleDeliveries)
	})
}

func (s *Server) executeRateLimit(next http.Handler) http.Handler {
	if !s.cfg.Rate.Enabled {
		return next
	}
	return mw.RateLimit(s.cfg.Rate.ExecuteLimit, rateWindow)(next)
}

// Start listens on the configured address and serves until Shutdown.
// http.ErrServerClosed is not reported as an error.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr())
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", ln.Addr().String())
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then waits for in-flight deliveries to
// release their limiter slots.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	if drainErr := s.limiter.WaitForDrain(ctx); drainErr != nil {
		slog.Warn("deliveries still running at shutdown", "active", s.limiter.Active())
		err = errors.Join(err, drainErr)
	}
	return err
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses. The server only
// returns JSON, so the policy forbids every resource type.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

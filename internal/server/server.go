package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pilotauth/pilot/internal/handler"
	"github.com/pilotauth/pilot/internal/license"
	"github.com/pilotauth/pilot/internal/metrics"
	"github.com/pilotauth/pilot/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	// Requests per minute. Public routes are limited per client IP, gated
	// routes per customer key. Zero disables the limit.
	PublicRateLimit int
	AdminRateLimit  int
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		PublicRateLimit: 120,
		AdminRateLimit:  600,
	}
}

// Deps are the collaborators the server routes to. Metrics may be nil, in
// which case /metrics is not mounted. Closers are closed in order after the
// server has drained.
type Deps struct {
	Service *license.Service
	Store   handler.Pinger
	Metrics *metrics.Metrics
	Version string
	Closers []io.Closer
}

// Server is the top-level HTTP server for Pilot. It owns the Chi router and
// the license service it dispatches to.
type Server struct {
	cfg        Config
	deps       Deps
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", middleware.CustomerKeyHeader, "X-Request-ID", "X-Requested-With"},
		ExposedHeaders: []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         300,
	}))
	r.Use(chimw.Compress(5))

	sys := handler.NewSystemHandler(s.deps.Store, s.deps.Version)

	// --- Health checks and documentation ---
	r.Get("/healthz", sys.Healthz)
	r.Get("/readyz", sys.Readyz)
	r.Get("/openapi.json", sys.OpenAPI)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}

	// --- License API ---
	r.Route("/auth", func(r chi.Router) {
		r.Use(middleware.CustomerKey)
		h := handler.NewLicenseHandler(s.deps.Service)

		// End-user client routes need no customer key.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(s.cfg.PublicRateLimit))

			r.Get("/signin", h.SignIn)
			r.Get("/assign_hwid", h.AssignHWID)
		})

		// Customer routes. The service rejects a missing or unknown key.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByCustomerKey(s.cfg.AdminRateLimit))

			// Applications
			r.Get("/generate_app", h.GenerateApp)
			r.Get("/list_apps_for_user", h.ListAppsForUser)
			r.Get("/list_keys_for_username", h.ListKeysForUsername)
			r.Get("/pause_app_key", h.PauseAppKey)
			r.Get("/unpause_app_key", h.UnpauseAppKey)
			r.Get("/delete_app_key", h.DeleteAppKey)
			r.Get("/get_app", h.GetApp)

			// Licenses
			r.Get("/generate_license_key", h.GenerateLicenseKey)
			r.Get("/edit_license_key", h.EditLicenseKey)
			r.Get("/get_license", h.GetLicense)
		})
	})

	s.router = r
}

// Addr returns the host:port the server listens on.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before closing the store and event publisher.
func (s *Server) ListenAndServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Serve runs the server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	addr := s.Addr()

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr, "version", s.deps.Version)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.closeAll()
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.closeAll()
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.closeAll()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) closeAll() {
	for _, c := range s.deps.Closers {
		if err := c.Close(); err != nil {
			s.logger.Warn("close failed", "error", err)
		}
	}
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

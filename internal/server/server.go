package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/leetstack/keygate/internal/config"
	"github.com/leetstack/keygate/internal/handler"
	"github.com/leetstack/keygate/internal/openapi"
	"github.com/leetstack/keygate/internal/server/middleware"
	"github.com/leetstack/keygate/internal/service"
	"github.com/leetstack/keygate/internal/telemetry"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	CORSOrigins     []string
	LoginRoute      middleware.LoginRoute
	MetricsEnabled  bool
	MetricsPath     string
	Version         string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		CORSOrigins:     []string{"*"},
		LoginRoute:      middleware.DefaultLoginRoute(),
		MetricsEnabled:  true,
		MetricsPath:     "/metrics",
	}
}

// Server is the top-level HTTP server for keygate. It owns the Chi router,
// the credential store, and the authenticators guarding the routes.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *config.Store
	verifier   *service.Verifier
	issuer     *service.SessionIssuer
	metrics    *telemetry.Metrics
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. metrics may be nil. Call ListenAndServe to start
// accepting connections.
func New(cfg Config, store *config.Store, verifier *service.Verifier, issuer *service.SessionIssuer, metrics *telemetry.Metrics, logger *slog.Logger) *Server {
	if cfg.LoginRoute.Path == "" {
		cfg.LoginRoute = middleware.DefaultLoginRoute()
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	s := &Server{
		cfg:      cfg,
		store:    store,
		verifier: verifier,
		issuer:   issuer,
		metrics:  metrics,
		logger:   logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) observer() service.Observer {
	if s.metrics == nil {
		return nil
	}
	return s.metrics
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	apiKeyAuth := service.NewAPIKeyAuthenticator(s.verifier, s.observer())
	sessionAuth := service.NewSessionAuthenticator(s.issuer, s.store, s.observer())

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", s.cfg.LoginRoute.Header, "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID", "WWW-Authenticate"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))
	if s.metrics != nil {
		r.Use(s.metrics.Instrument)
	}
	// The interceptor sees every request but only acts on the login route.
	r.Use(middleware.APIKeyLogin(apiKeyAuth, s.cfg.LoginRoute, s.logger))

	// --- Health checks (no auth required) ---
	health := handler.NewHealthHandler(s.store, s.logger)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	if s.metrics != nil && s.cfg.MetricsEnabled {
		r.Handle(s.cfg.MetricsPath, s.metrics.Handler())
	}

	// --- OpenAPI (no auth required) ---
	doc := openapi.GenerateAuthSpec(openapi.Options{
		Version:      s.cfg.Version,
		LoginPath:    s.cfg.LoginRoute.Path,
		APIKeyHeader: s.cfg.LoginRoute.Header,
	})
	if oh, err := handler.NewOpenAPIHandler(doc); err != nil {
		s.logger.Error("failed to render openapi document", "error", err)
	} else {
		r.Get("/openapi.json", oh.ServeSpec)
	}

	// --- Auth routes ---
	auth := handler.NewAuthHandler(s.issuer, s.logger)
	r.Method(s.cfg.LoginRoute.Method, s.cfg.LoginRoute.Path, http.HandlerFunc(auth.Login))

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireSession(sessionAuth, s.logger))
		r.Get("/api/current-principal", auth.CurrentPrincipal)
	})

	s.router = r
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests and pending last-used updates before closing the store.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server listen: %w", err)
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in background goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			"addr", ln.Addr().String(),
			"login_path", s.cfg.LoginRoute.Path,
			"store", s.store.Driver(),
		)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	shutdownErr := s.httpServer.Shutdown(shutdownCtx)
	// Pending last-used updates must finish before the store closes.
	s.verifier.Wait()
	if shutdownErr != nil {
		return fmt.Errorf("server shutdown: %w", shutdownErr)
	}

	if err := s.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

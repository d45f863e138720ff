package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hongminglow/tours-be/internal/auth"
	"github.com/hongminglow/tours-be/internal/config"
	"github.com/hongminglow/tours-be/internal/http/handlers"
	"github.com/hongminglow/tours-be/internal/middleware"
	"github.com/hongminglow/tours-be/internal/models"
	"github.com/hongminglow/tours-be/internal/observability"
	"github.com/hongminglow/tours-be/internal/storage"
)

// Deps are the collaborators built outside the server.
type Deps struct {
	Store    storage.UserStore
	Mailer   auth.Mailer
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Version  string
}

// Server wraps an http.Server with configured routes.
type Server struct {
	inner   *http.Server
	handler http.Handler
}

// New wires up the auth core, middleware and routes, and returns a ready server.
func New(cfg config.Config, deps Deps) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("user store is required")
	}
	if deps.Mailer == nil {
		return nil, errors.New("mailer is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := deps.Registry
	if registry == nil {
		registry = observability.NewRegistry()
	}
	metrics := observability.NewMetrics(registry)
	opts := []auth.Option{auth.WithLogger(logger), auth.WithObserver(metrics)}

	hasher, err := auth.NewBcryptHasher(cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	tokens, err := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL, opts...)
	if err != nil {
		return nil, err
	}
	service, err := auth.NewService(deps.Store, deps.Mailer, hasher, tokens, auth.NewResetTokenGenerator(opts...), opts...)
	if err != nil {
		return nil, err
	}
	guard, err := auth.NewGuard(deps.Store, tokens, opts...)
	if err != nil {
		return nil, err
	}

	protect := middleware.Protect(guard, logger)
	staffOnly := middleware.RestrictTo(guard, logger, models.RoleAdmin, models.RoleLeadGuide)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(time.Now(), deps.Version).Register(mux)
	handlers.NewAuthHandler(service, logger, cfg.AppBaseURL).Register(mux, protect)
	handlers.NewUserHandler(deps.Store, logger).Register(mux, protect, staffOnly)
	mux.Handle("GET /metrics", observability.Handler(registry))

	handler := middleware.Chain(mux,
		middleware.Logging(logger, metrics),
		middleware.CORS(cfg.CORSOrigins),
	)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	return &Server{inner: httpServer, handler: handler}, nil
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP traffic.
func (s *Server) Start() error {
	return s.inner.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}

package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/HasithaS001/doclama-sub001/internal/config"
	"github.com/HasithaS001/doclama-sub001/internal/handlers"
	"github.com/HasithaS001/doclama-sub001/internal/middleware"
	"github.com/HasithaS001/doclama-sub001/internal/proxy"
)

// Deps are the collaborators the router is built from. Optional fields left
// nil disable the routes that need them.
type Deps struct {
	Checkout handlers.CheckoutCreator
	Proxy    *proxy.Rewriter

	// Events enables POST /api/webhooks/lemonsqueezy together with a
	// configured webhook secret.
	Events   handlers.WebhookEventStore
	Guard    handlers.ReplayGuard
	Notifier handlers.EventNotifier

	// Subscriptions enables GET /api/billing/subscription.
	Subscriptions handlers.SubscriptionReader

	HealthChecks []handlers.HealthCheck
	Logger       *zap.Logger
}

// Server wraps an http.Server with convenience helpers for startup/shutdown.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// New constructs an HTTP server using the provided configuration and dependencies.
func New(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.RequestLogger(logger))
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Identity(cfg.Checkout))

	router.Get("/healthz", handlers.Health(deps.HealthChecks...))

	if deps.Checkout != nil {
		handlers.NewSubscriptionHandler(deps.Checkout, cfg, logger).RegisterRoutes(router)
	}

	if deps.Proxy != nil {
		for _, rule := range deps.Proxy.Rules() {
			router.Handle(proxy.RoutePattern(rule.Source), deps.Proxy)
		}
	}

	if deps.Events != nil && cfg.LemonSqueezy.WebhookSecret != "" {
		handlers.NewWebhookHandler(deps.Events, deps.Guard, deps.Notifier, cfg.LemonSqueezy.WebhookSecret, logger).RegisterRoutes(router)
	} else {
		logger.Info("webhook route disabled", zap.Bool("has_store", deps.Events != nil), zap.Bool("has_secret", cfg.LemonSqueezy.WebhookSecret != ""))
	}

	if deps.Subscriptions != nil {
		router.Get("/api/billing/subscription", handlers.CurrentSubscription(deps.Subscriptions, logger))
	}

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv, logger: logger}
}

// Start begins serving HTTP traffic.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

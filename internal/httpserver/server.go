package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/catalog"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/config"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/entitlements"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/guest"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/idempotency"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/logger"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/metrics"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/payment"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/pricing"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/ratelimit"
)

var (
	serverStartTime = time.Now()
)

// Services are the engine components exposed over HTTP.
type Services struct {
	Flows       *payment.Registry
	Resolver    *entitlements.Resolver
	Catalog     catalog.Repository
	Pricing     *pricing.Calculator
	Guests      *guest.Registry
	Idempotency idempotency.Store
	Metrics     *metrics.Metrics
}

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg *config.Config
	Services
	logger zerolog.Logger
}

// New builds the HTTP server with configured router.
func New(cfg *config.Config, svc Services, appLogger zerolog.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{cfg: cfg, Services: svc, logger: appLogger},
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	ConfigureRouter(router, cfg, svc, appLogger)
	return s
}

// ConfigureRouter attaches the storefront routes to an existing router.
func ConfigureRouter(router chi.Router, cfg *config.Config, svc Services, appLogger zerolog.Logger) {
	if router == nil {
		return
	}
	h := &handlers{cfg: cfg, Services: svc, logger: appLogger}

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", ratelimit.ViewerHeader, idempotency.HeaderKey},
			ExposedHeaders:   []string{"X-Request-ID", idempotency.ReplayHeader},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)
	// Logger before RequestID so the request logger carries the id.
	router.Use(logger.Middleware(appLogger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	rateLimitCfg := ratelimit.Config{
		GlobalEnabled:    cfg.RateLimit.GlobalEnabled,
		GlobalLimit:      cfg.RateLimit.GlobalLimit,
		GlobalWindow:     cfg.RateLimit.GlobalWindow.Duration,
		PerViewerEnabled: cfg.RateLimit.PerViewerEnabled,
		PerViewerLimit:   cfg.RateLimit.PerViewerLimit,
		PerViewerWindow:  cfg.RateLimit.PerViewerWindow.Duration,
		PerIPEnabled:     cfg.RateLimit.PerIPEnabled,
		PerIPLimit:       cfg.RateLimit.PerIPLimit,
		PerIPWindow:      cfg.RateLimit.PerIPWindow.Duration,
		Metrics:          svc.Metrics,
	}
	router.Use(ratelimit.GlobalLimiter(rateLimitCfg))
	router.Use(ratelimit.IPLimiter(rateLimitCfg))

	prefix := cfg.Server.RoutePrefix

	// Lightweight endpoints
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get(prefix+"/health", h.health)
		// Protected by the optional admin key
		r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).Handle(prefix+"/metrics", promhttp.Handler())

		r.Get(prefix+"/v1/contents/{contentID}/quotes", h.contentQuotes)
		r.Get(prefix+"/v1/plans", h.planQuotes)
		r.Get(prefix+"/v1/access/{contentID}", h.authorize)
	})

	// Webhooks are not versioned: the Transaction Store needs a stable URL.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Post(prefix+"/webhook/gateway", h.gatewayWebhook)
	})

	var idempotencyMW func(http.Handler) http.Handler
	if svc.Idempotency != nil {
		idempotencyMW = idempotency.Middleware(svc.Idempotency, cfg.Payment.IdempotencyTTL.Duration, viewerScope)
	} else {
		idempotencyMW = func(next http.Handler) http.Handler { return next }
	}

	// Purchase flows. Confirm blocks on the gateway's submission response,
	// Wait long-polls for a terminal step.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(90 * time.Second))
		r.Use(ratelimit.ViewerLimiter(rateLimitCfg))

		r.Post(prefix+"/v1/flows", h.createFlow)
		r.Get(prefix+"/v1/flows/{flowID}", h.getFlow)
		r.Delete(prefix+"/v1/flows/{flowID}", h.deleteFlow)
		r.Post(prefix+"/v1/flows/{flowID}/content", h.loadContent)
		r.Post(prefix+"/v1/flows/{flowID}/select", h.selectOption)
		r.Post(prefix+"/v1/flows/{flowID}/back", h.back)
		r.With(idempotencyMW).Post(prefix+"/v1/flows/{flowID}/confirm", h.confirm)
		r.Post(prefix+"/v1/flows/{flowID}/retry", h.retry)
		r.Post(prefix+"/v1/flows/{flowID}/abandon", h.abandon)
		r.Get(prefix+"/v1/flows/{flowID}/wait", h.waitFlow)

		r.Post(prefix+"/v1/entitlements/refresh", h.refreshEntitlements)
	})

	// Guest playback allowances
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Post(prefix+"/v1/guest/sessions", h.startGuestSession)
		r.Get(prefix+"/v1/guest/sessions/{sessionID}", h.getGuestSession)
		r.Post(prefix+"/v1/guest/sessions/{sessionID}/playing", h.setGuestPlaying)
		r.Post(prefix+"/v1/guest/sessions/{sessionID}/reset", h.resetGuestSession)
		r.Delete(prefix+"/v1/guest/sessions/{sessionID}", h.stopGuestSession)
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Close implements io.Closer for the lifecycle manager.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

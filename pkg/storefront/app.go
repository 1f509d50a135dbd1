package storefront

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/catalog"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/circuitbreaker"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/config"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/entitlements"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/gateway"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/guest"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/httpserver"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/idempotency"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/lifecycle"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/logger"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/metrics"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/payment"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/pricing"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/storage"
)

// App wires the storefront payment and access components for reuse or
// standalone serving.
type App struct {
	Config      *config.Config
	Store       storage.Store
	Gateway     payment.Gateway
	Catalog     catalog.Repository
	Pricing     *pricing.Calculator
	Resolver    *entitlements.Resolver
	Flows       *payment.Registry
	Guests      *guest.Registry
	Idempotency idempotency.Store
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger

	router          chi.Router
	resourceManager *lifecycle.Manager
}

// Option configures App construction.
type Option func(*options)

type options struct {
	store      storage.Store
	gateway    payment.Gateway
	catalog    catalog.Repository
	router     chi.Router
	registerer prometheus.Registerer
	logger     *zerolog.Logger
}

// WithStore sets a custom storage backend.
func WithStore(store storage.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithGateway replaces the Transaction Store client. A gateway that also
// serves entitlement snapshots is used for refreshes.
func WithGateway(gw payment.Gateway) Option {
	return func(o *options) {
		o.gateway = gw
	}
}

// WithCatalog replaces the configured content repository.
func WithCatalog(repo catalog.Repository) Option {
	return func(o *options) {
		o.catalog = repo
	}
}

// WithRouter allows callers to provide an existing chi.Router to register routes onto.
func WithRouter(router chi.Router) Option {
	return func(o *options) {
		o.router = router
	}
}

// WithRegisterer registers metrics somewhere other than the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithLogger overrides the logger built from the logging config.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &l
	}
}

// NewApp assembles the storefront services.
func NewApp(cfg *config.Config, opts ...Option) (app *App, err error) {
	if cfg == nil {
		return nil, errors.New("storefront: config required")
	}

	optState := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&optState)
	}

	app = &App{Config: cfg}
	if optState.logger != nil {
		app.Logger = *optState.logger
	} else {
		app.Logger = logger.New(logger.Config{
			Level:       cfg.Logging.Level,
			Format:      cfg.Logging.Format,
			Service:     "cinemarwa-storefront",
			Environment: cfg.Logging.Environment,
		})
	}
	app.resourceManager = lifecycle.NewManager(app.Logger)
	// Release whatever was opened if a later step fails.
	defer func() {
		if err != nil {
			_ = app.resourceManager.Close()
			app = nil
		}
	}()

	app.Metrics = metrics.New(optState.registerer)

	if optState.store != nil {
		app.Store = optState.store
	} else {
		store, err := storage.NewStore(cfg.Storage, app.Metrics)
		if err != nil {
			return nil, fmt.Errorf("init storage: %w", err)
		}
		app.Store = store
		app.resourceManager.Register("storage", store)
		if cfg.Storage.Backend == "" || cfg.Storage.Backend == "memory" {
			app.Logger.Warn().Msg("storefront: in-memory store forgets purchases on restart; do not use it in production")
		}
	}

	archival := storage.NewArchivalService(app.Store, storage.ArchivalConfigFromApp(cfg.Storage.Archival), app.Metrics, app.Logger)
	archival.Start()
	app.resourceManager.Register("archival", archival)

	breakers := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker)

	var source entitlements.SnapshotSource
	if optState.gateway != nil {
		app.Gateway = optState.gateway
		source, _ = optState.gateway.(entitlements.SnapshotSource)
	} else {
		client := gateway.New(cfg.Gateway, gateway.Options{Breakers: breakers, Metrics: app.Metrics})
		app.Gateway = client
		source = client
	}

	if optState.catalog != nil {
		app.Catalog = optState.catalog
	} else {
		repo, err := catalog.NewRepository(cfg.Catalog, catalog.Options{Breakers: breakers, Metrics: app.Metrics})
		if err != nil {
			return nil, fmt.Errorf("init catalog: %w", err)
		}
		app.Catalog = repo
	}

	app.Pricing, err = pricing.NewCalculator(pricing.ConfigFromApp(cfg.Pricing))
	if err != nil {
		return nil, fmt.Errorf("init pricing: %w", err)
	}

	app.Resolver = entitlements.NewResolver(app.Store, entitlements.ConfigFromApp(cfg.Access, cfg.Pricing), entitlements.Options{
		Source:  source,
		Catalog: app.Catalog,
		Metrics: app.Metrics,
		Logger:  app.Logger,
	})

	if cfg.Storage.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.Storage.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opt)
		app.Idempotency = idempotency.NewRedisStore(client)
		app.resourceManager.Register("idempotency-redis", client)
	} else {
		mem := idempotency.NewMemoryStore()
		app.Idempotency = mem
		app.resourceManager.RegisterFunc("idempotency-store", func() error {
			mem.Stop()
			return nil
		})
	}

	app.Flows = payment.NewRegistry(payment.ConfigFromApp(cfg.Payment), payment.Deps{
		Gateway:     app.Gateway,
		Catalog:     app.Catalog,
		Pricing:     app.Pricing,
		Store:       app.Store,
		Idempotency: app.Idempotency,
		Grantor:     app.Resolver,
		Metrics:     app.Metrics,
		Logger:      app.Logger,
	}, cfg.Payment.FlowIdleTimeout.Duration)
	app.resourceManager.Register("flows", app.Flows)

	trial, trailer := guest.ConfigsFromApp(cfg.Guest)
	app.Guests = guest.NewRegistry(trial, trailer, cfg.Payment.FlowIdleTimeout.Duration, app.Metrics, app.Logger)
	app.resourceManager.Register("guest-sessions", app.Guests)

	if optState.router != nil {
		app.router = optState.router
	} else {
		app.router = chi.NewRouter()
	}
	httpserver.ConfigureRouter(app.router, cfg, app.services(), app.Logger)

	return app, nil
}

func (a *App) services() httpserver.Services {
	return httpserver.Services{
		Flows:       a.Flows,
		Resolver:    a.Resolver,
		Catalog:     a.Catalog,
		Pricing:     a.Pricing,
		Guests:      a.Guests,
		Idempotency: a.Idempotency,
		Metrics:     a.Metrics,
	}
}

// Router returns the chi router with storefront routes registered.
func (a *App) Router() chi.Router {
	return a.router
}

// Handler exposes the router as an http.Handler.
func (a *App) Handler() http.Handler {
	return a.router
}

// NewServer builds a standalone HTTP server over the app's services and
// registers it so Close drains it first.
func (a *App) NewServer() *httpserver.Server {
	srv := httpserver.New(a.Config, a.services(), a.Logger)
	a.resourceManager.Register("http-server", srv)
	return srv
}

// Close releases resources owned by the app in reverse order of creation.
func (a *App) Close() error {
	return a.resourceManager.Close()
}

// NewHandler is a convenience that constructs an App and returns its handler.
func NewHandler(cfg *config.Config, opts ...Option) (http.Handler, func(context.Context) error, error) {
	app, err := NewApp(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	shutdown := func(context.Context) error {
		return app.Close()
	}
	return app.Handler(), shutdown, nil
}

// Config is an exported alias of the internal configuration struct for embedding use.
type Config = config.Config

// LoadConfig wraps the internal loader for consumers embedding the storefront engine.
func LoadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}

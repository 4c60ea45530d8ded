package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"shopmgr/internal/clock"
	"shopmgr/internal/config"
	"shopmgr/internal/device"
	"shopmgr/internal/entitlement"
	apierrors "shopmgr/internal/errors"
	"shopmgr/internal/infrastructure"
	"shopmgr/internal/license"
	"shopmgr/internal/middleware"
	"shopmgr/internal/storage"
	handlers "shopmgr/internal/transport/http"
	ws "shopmgr/internal/websocket"
	"shopmgr/pkg/contracts"
)

// AppName is reported in logs and telemetry.
const AppName = "shopmgr"

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Resolver      *entitlement.Resolver
	Pusher        *ws.Pusher
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders

	store        storage.Store
	pinger       handlers.Pinger
	closers      []io.Closer
	shutdownOnce sync.Once
	shutdownErr  error
}

// NewApplication wires every component from cfg. A nil cfg loads the
// configuration from disk and the environment.
func NewApplication(ctx context.Context, cfg *config.Config) (*Application, error) {
	if cfg == nil {
		loaded, err := config.Load("")
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg = loaded
	} else if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.Dirs().EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.InfoContext(ctx, "application starting",
		slog.String("name", AppName),
		slog.String("version", contracts.GetFullVersionString()))
	cfg.Dirs().LogPathResolution(logger)

	providers, err := infrastructure.InitializeOTel(infrastructure.OTelConfigFrom(cfg.Telemetry, contracts.Version), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	a := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: providers,
	}

	if err := a.initializeServices(ctx); err != nil {
		a.closeResources()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	a.setupRouter()
	a.createServer()
	return a, nil
}

// initializeServices builds the store, identity provider, validator,
// resolver and pusher.
func (a *Application) initializeServices(ctx context.Context) error {
	identity := a.identityProvider()

	store, err := a.openStore(ctx, identity)
	if err != nil {
		return err
	}
	a.store = store

	metrics, err := entitlement.NewMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create entitlement metrics: %w", err)
	}

	resolver, err := entitlement.NewResolver(entitlement.Config{
		Store:     store,
		Validator: license.NewValidator(license.WithLogger(a.Logger)),
		Identity:  identity,
		Clock:     clock.Real{},
		TrialDays: a.Config.Trial.Days,
		Metrics:   metrics,
		Logger:    a.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create resolver: %w", err)
	}
	a.Resolver = resolver
	a.Pusher = ws.NewPusher(resolver, a.Config.Push.Interval, a.Logger)

	// The first resolution records the trial start on a fresh install.
	state := resolver.Resolve(ctx)
	a.Logger.InfoContext(ctx, "entitlement resolved at startup",
		slog.Bool("allowed", state.Allowed),
		slog.String("reason", string(state.Reason)),
		slog.String("device_id", state.DeviceID))
	return nil
}

func (a *Application) identityProvider() device.IdentityProvider {
	cfg := a.Config.Device
	switch cfg.Source {
	case "fingerprint":
		return device.NewFingerprintProvider(a.Logger)
	case "static":
		return device.Static(cfg.StaticID)
	default:
		return device.NewMachineIDProvider(cfg.AppID, a.Config.Paths.DataDir, a.Logger)
	}
}

// openStore opens the configured backend and, when sealing is enabled,
// wraps it with a key bound to this device.
func (a *Application) openStore(ctx context.Context, identity device.IdentityProvider) (storage.Store, error) {
	var store storage.Store

	switch a.Config.Storage.Driver {
	case "memory":
		a.Logger.WarnContext(ctx, "using in-memory storage, trial and license are lost on exit")
		store = storage.NewMemoryStore()
	default:
		db, err := storage.OpenSQLite(ctx, a.Config.Storage.Path, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open storage: %w", err)
		}
		a.closers = append(a.closers, db)
		a.pinger = db
		store = db
	}

	if !a.Config.Storage.Seal {
		return store, nil
	}

	salt, err := storage.LoadOrCreateSalt(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("failed to load seal salt: %w", err)
	}
	key, err := storage.DeriveSealKey(device.Resolve(ctx, identity, a.Logger), salt)
	if err != nil {
		return nil, err
	}
	sealed, err := storage.NewSealedStore(store, key)
	if err != nil {
		return nil, fmt.Errorf("failed to seal storage: %w", err)
	}
	return sealed, nil
}

// setupRouter configures the HTTP router with all routes. The middleware
// sits on the root mux so unmatched paths pass through the access gate too.
func (a *Application) setupRouter() {
	r := chi.NewRouter()
	errHandler := apierrors.NewErrorHandler(a.Logger, false)

	r.Use(middleware.RequestID)
	otelMiddleware, err := middleware.NewOTelMiddleware(a.OTelProviders)
	if err != nil {
		a.Logger.Error("failed to create OpenTelemetry middleware", slog.String("error", err.Error()))
	} else {
		r.Use(otelMiddleware.Handler)
	}
	r.Use(apierrors.NewErrorMiddleware(errHandler, a.Logger).Handler)
	r.Use(middleware.DefaultSecureHeaders().Handler)
	r.Use(middleware.NewAccessGate(a.Resolver, a.Config.Server.ActivationPage, a.Logger).Handler)

	r.NotFound(errHandler.NotFound)
	r.MethodNotAllowed(errHandler.MethodNotAllowed)

	var limiter *middleware.RateLimiter
	if rl := a.Config.Server.RateLimit; rl.Enabled {
		limiter = middleware.NewRateLimiter(rl.RPS, rl.Burst, a.Logger).
			TrustForwardedHeaders(a.Config.Server.TrustProxy)
	}

	handlers.NewEntitlementHandler(a.Resolver, limiter, clock.Real{}, a.Logger).
		WithNotifier(a.Pusher).
		Routes(r)
	r.Get("/api/health", handlers.NewHealthHandler(a.pinger, contracts.Version, clock.Real{}, a.Logger).HealthCheck)
	r.Get(a.Config.Server.ActivationPage, handlers.ActivationPage(a.Resolver, a.Logger))
	r.Handle("/ws/entitlement", a.Pusher)
	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	if site := handlers.StaticSite(a.Config.Paths.WebDir); site != nil {
		r.Handle("/*", site)
	} else {
		a.Logger.Warn("web directory has no index.html, serving the API only",
			slog.String("web_dir", a.Config.Paths.WebDir))
	}

	a.Router = r
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         a.Config.Address(),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Run serves until ctx is cancelled or the process receives SIGINT or
// SIGTERM, then shuts down gracefully.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.Pusher.Run(gctx)
	})

	g.Go(func() error {
		a.Logger.InfoContext(gctx, "http server listening",
			slog.String("address", a.Server.Addr),
			slog.String("activation_page", a.Config.Server.ActivationPage))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info("shutdown requested")
		return a.Shutdown(context.WithoutCancel(gctx))
	})

	return g.Wait()
}

// Shutdown stops the HTTP server, flushes telemetry and closes storage. It
// is safe to call more than once.
func (a *Application) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if a.Server != nil {
			if err := a.Server.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("server shutdown: %w", err))
			}
		}
		if a.OTelProviders != nil {
			if err := a.OTelProviders.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
			}
		}
		a.closeResources()

		a.Logger.Info("application shutdown complete")
		a.shutdownErr = errors.Join(errs...)
	})
	return a.shutdownErr
}

func (a *Application) closeResources() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.Logger.Warn("failed to close resource", slog.String("error", err.Error()))
		}
	}
	a.closers = nil
}

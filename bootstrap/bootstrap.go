// Package bootstrap wires the engine and its collaborators from
// configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/artpar/entitysdk/adapters/clock"
	"github.com/artpar/entitysdk/adapters/hasher"
	adminhttp "github.com/artpar/entitysdk/adapters/http"
	"github.com/artpar/entitysdk/adapters/idgen"
	"github.com/artpar/entitysdk/adapters/metrics"
	"github.com/artpar/entitysdk/config"
	"github.com/artpar/entitysdk/core/autonumber"
	"github.com/artpar/entitysdk/core/datafilter"
	"github.com/artpar/entitysdk/core/defaults"
	"github.com/artpar/entitysdk/core/dependency"
	"github.com/artpar/entitysdk/core/engine"
	"github.com/artpar/entitysdk/core/events"
	"github.com/artpar/entitysdk/core/plugin"
	"github.com/artpar/entitysdk/core/registry"
	"github.com/artpar/entitysdk/core/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Options customizes New. The zero value is usable.
type Options struct {
	// Logger replaces the logger built from the logging config.
	Logger *zerolog.Logger

	// Registry receives the metrics; defaults to the global registry.
	Registry *prometheus.Registry

	// Steps are registered after the built-in and schema-declared steps.
	Steps []plugin.Step

	// Filters supplies data filters; defaults to schema ownership.
	Filters datafilter.Provider

	Version string
}

// App is a wired engine with its storage and admin server.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Registry *registry.Registry
	Store    *storage.SQLiteStore
	Plugins  *plugin.Store
	Events   *events.Bus
	Engine   *engine.Engine
	Metrics  *metrics.Collector

	dependents     *dependency.Index
	metricsHandler http.Handler
	version        string
}

// New loads the schemas, opens storage and builds the engine.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	logger := NewLogger(cfg.Logging.Level, cfg.Logging.Format, nil)
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	a := &App{Config: cfg, Logger: logger, version: opts.Version}

	a.Registry = registry.New()
	if err := a.Registry.LoadDir(cfg.Schemas.Dir); err != nil {
		return nil, fmt.Errorf("load schemas: %w", err)
	}
	if err := a.Registry.Freeze(); err != nil {
		return nil, fmt.Errorf("freeze registry: %w", err)
	}
	a.dependents = dependency.NewIndex(a.Registry)

	logger.Info().
		Str("dir", cfg.Schemas.Dir).
		Int("schemas", len(a.Registry.GetAllSchema())).
		Msg("schemas loaded")

	store, err := storage.NewSQLiteStore(cfg.Database.DSN,
		storage.WithIDGenerator(idgen.New(cfg.IDs.Generator, cfg.IDs.Prefix)),
		storage.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.Store = store

	if err := a.init(ctx, opts); err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, opts Options) error {
	cfg := a.Config

	for _, s := range a.Registry.GetAllSchema() {
		if err := a.Store.EnsureTable(ctx, s); err != nil {
			return fmt.Errorf("ensure table %s: %w", s.LogicalName, err)
		}
	}

	numbers, err := a.autoNumbers(ctx)
	if err != nil {
		return err
	}

	var pluginRecorder plugin.Recorder
	var engineRecorder engine.Recorder
	if cfg.Metrics.Enabled {
		if opts.Registry != nil {
			a.Metrics = metrics.NewWithRegistry(opts.Registry)
			a.metricsHandler = promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})
		} else {
			a.Metrics = metrics.New()
			a.metricsHandler = promhttp.Handler()
		}
		pluginRecorder = a.Metrics
		engineRecorder = a.Metrics
	}

	a.Events = events.NewBus(a.Logger)

	a.Plugins = plugin.NewStore(a.Logger, pluginRecorder)
	if err := RegisterValidationSteps(a.Plugins); err != nil {
		return fmt.Errorf("register validation steps: %w", err)
	}
	if err := RegisterSecretSteps(a.Plugins, a.Registry, hasher.NewBcrypt(cfg.Security.BcryptCost), a.Logger); err != nil {
		return fmt.Errorf("register secret steps: %w", err)
	}
	if err := RegisterSchemaSteps(a.Plugins, a.Registry, a.Events, a.Logger); err != nil {
		return fmt.Errorf("register schema steps: %w", err)
	}
	for _, step := range opts.Steps {
		if err := a.Plugins.Register(step); err != nil {
			return fmt.Errorf("register step %q: %w", step.Name, err)
		}
	}
	a.Plugins.Freeze()

	filters := opts.Filters
	if filters == nil {
		filters = datafilter.OwnershipProvider{}
	}

	clk := clock.UTC{}
	a.Engine = engine.New(engine.Config{
		Registry:   a.Registry,
		Backend:    a.Store,
		Plugins:    a.Plugins,
		Defaults:   defaults.New(clk, numbers),
		Filters:    datafilter.NewComposer(filters),
		Dependents: a.dependents,
		Clock:      clk,
		Events:     a.Events,
		Recorder:   engineRecorder,
		Logger:     a.Logger,
	})

	a.Logger.Info().
		Int("steps", len(a.Plugins.Steps())).
		Str("autonumber", cfg.AutoNumber.Provider).
		Bool("metrics", cfg.Metrics.Enabled).
		Msg("engine ready")

	return nil
}

func (a *App) autoNumbers(ctx context.Context) (autonumber.Provider, error) {
	switch a.Config.AutoNumber.Provider {
	case "memory":
		return autonumber.NewMemory(), nil
	default:
		p := autonumber.NewSQLite(a.Store)
		if err := p.EnsureTable(ctx); err != nil {
			return nil, fmt.Errorf("ensure autonumber table: %w", err)
		}
		return p, nil
	}
}

// Handler returns the admin HTTP handler.
func (a *App) Handler() http.Handler {
	rc := adminhttp.RouterConfig{
		Registry:   a.Registry,
		Dependents: a.dependents,
		Health:     a.Store,
		Version:    a.version,
		Logger:     a.Logger,
	}
	if a.Config.Metrics.Enabled {
		rc.MetricsPath = a.Config.Metrics.Path
		rc.MetricsHandler = a.metricsHandler
	}
	return adminhttp.NewRouter(rc)
}

// Serve runs the admin server until ctx is done or SIGINT/SIGTERM arrives,
// then shuts it down gracefully.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         a.Config.Server.Addr(),
		Handler:      a.Handler(),
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", srv.Addr).Msg("starting admin server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
		a.Logger.Info().Msg("context done, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error().Err(err).Msg("admin server shutdown error")
	}
	return nil
}

// WatchConfig applies reloaded log levels from holder and counts reloads.
func (a *App) WatchConfig(holder *config.Holder) {
	if a.Metrics != nil {
		holder.SetRecorder(a.Metrics)
	}
	holder.OnChange(func(cfg *config.Config) {
		lvl := ApplyLevel(cfg.Logging.Level)
		a.Logger.Info().Str("level", lvl.String()).Msg("log level applied")
	})
}

// Close releases the database.
func (a *App) Close() error {
	if a.Store == nil {
		return nil
	}
	if err := a.Store.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	a.Logger.Info().Msg("shutdown complete")
	return nil
}

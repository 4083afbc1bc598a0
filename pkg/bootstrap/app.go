package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/statekeep/statekeep/pkg/config"
	"github.com/statekeep/statekeep/pkg/metasync"
	"github.com/statekeep/statekeep/pkg/policy"
	"github.com/statekeep/statekeep/pkg/reducers"
	"github.com/statekeep/statekeep/pkg/script"
	"github.com/statekeep/statekeep/pkg/store"
	"github.com/statekeep/statekeep/pkg/stores"
	"github.com/statekeep/statekeep/pkg/telemetry"
)

// App wires every collaborator described by a configuration file. Each call
// to Bootstrap creates one store; stores of the same App synchronize
// through an in-process hub.
type App struct {
	Config    *config.Config
	Telemetry *telemetry.Telemetry
	Backend   stores.Backend
	Hub       *metasync.Hub
	Engine    *policy.Engine
	Seed      store.State

	module *script.Module
	loader *policy.Loader
	logger zerolog.Logger

	mu      sync.Mutex
	stores  int
	handles []*Handle
}

// NewApp opens the backend, loads scripted reducers, policies and the seed
// state named by cfg. tel may be nil.
func NewApp(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry) (_ *App, err error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if tel == nil {
		tel = telemetry.Nop()
	}
	logger := tel.Logger.Zerolog()

	a := &App{
		Config:    cfg,
		Telemetry: tel,
		logger:    logger.With().Str("component", "app").Logger(),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if cfg.Reducers.Script != "" {
		opts := append(cfg.ScriptOptions(), script.WithLogger(logger))
		a.module, err = script.LoadFile(cfg.Reducers.Script, opts...)
		if err != nil {
			return nil, store.NewConfigurationError("failed to load reducer script", err)
		}
		// Scripted slices must not shadow application slices.
		if err := a.module.Register(reducers.New()); err != nil {
			return nil, err
		}
	}

	if cfg.Seed.Path != "" {
		sl := config.NewSeedLoader()
		if cfg.Seed.Schema != "" {
			if err := sl.UseSchemaFile(cfg.Seed.Schema); err != nil {
				return nil, store.NewConfigurationError("failed to load seed schema", err)
			}
		}
		a.Seed, err = sl.Load(ctx, cfg.Seed.Path)
		if err != nil {
			return nil, store.NewConfigurationError("failed to load seed", err)
		}
	}

	if cfg.Policy.Enabled {
		a.Engine, err = policy.NewEngine(logger)
		if err != nil {
			return nil, err
		}
		if len(cfg.Policy.Paths) > 0 {
			a.loader = policy.NewLoader(logger)
			policies, err := a.loader.LoadFromPaths(ctx, cfg.Policy.Paths)
			if err != nil {
				return nil, store.NewConfigurationError("failed to load policies", err)
			}
			if err := a.Engine.Load(ctx, policies); err != nil {
				return nil, store.NewConfigurationError("failed to compile policies", err)
			}
		}
		if err := applyOverrides(a.Engine, cfg.Policy.Overrides); err != nil {
			return nil, store.NewConfigurationError("invalid policy override", err)
		}
		if a.loader != nil && cfg.Policy.Watch {
			engine := a.Engine
			reload := func(p []policy.Policy) error {
				if err := engine.Load(context.WithoutCancel(ctx), p); err != nil {
					return err
				}
				// Load resets enabled flags to what the files declare.
				return applyOverrides(engine, cfg.Policy.Overrides)
			}
			if err := a.loader.Watch(ctx, cfg.Policy.Paths, reload); err != nil {
				return nil, err
			}
		}
	}

	hubOpts := []metasync.HubOption{
		metasync.WithHubLogger(logger),
		metasync.WithHubMetrics(tel.Metrics),
	}
	if cfg.Sync.BufferSize > 0 {
		hubOpts = append(hubOpts, metasync.WithBufferSize(cfg.Sync.BufferSize))
	}
	a.Hub = metasync.NewHub(hubOpts...)

	a.Backend, err = stores.Open(ctx, cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Driver, err)
	}

	a.logger.Info().
		Str("driver", string(cfg.Storage.Driver)).
		Bool("policy", a.Engine != nil).
		Bool("script", a.module != nil).
		Int("seed_slices", len(a.Seed)).
		Msg("Application assembled")

	return a, nil
}

// applyOverrides enables or disables policies by name.
func applyOverrides(e *policy.Engine, overrides map[string]bool) error {
	var errs []error
	for name, enabled := range overrides {
		toggle := e.DisablePolicy
		if enabled {
			toggle = e.EnablePolicy
		}
		if err := toggle(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HealthCheck pings the storage backend when it supports it.
func (a *App) HealthCheck(ctx context.Context) error {
	if a.Backend == nil {
		return errors.New("storage backend is closed")
	}
	hc, ok := a.Backend.(interface{ HealthCheck(context.Context) error })
	if !ok {
		return nil
	}
	if err := hc.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%s storage is unhealthy: %w", a.Config.Storage.Driver, err)
	}
	return nil
}

// Registry builds a fresh registry of application and scripted slices.
func (a *App) Registry() (*store.Registry, error) {
	r := reducers.New()
	if a.module != nil {
		if err := a.module.Register(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Deps returns the bootstrap dependencies for one new store.
func (a *App) Deps() (Deps, error) {
	r, err := a.Registry()
	if err != nil {
		return Deps{}, err
	}

	a.mu.Lock()
	a.stores++
	n := a.stores
	a.mu.Unlock()

	logger := a.Telemetry.Logger.Zerolog()
	syncOpts := []metasync.Option{
		metasync.WithBus(a.Hub),
		metasync.WithLogger(logger),
		metasync.WithMetrics(a.Telemetry.Metrics),
	}
	if origin := a.Config.Sync.Origin; origin != "" {
		if n > 1 {
			origin = fmt.Sprintf("%s-%d", origin, n)
		}
		syncOpts = append(syncOpts, metasync.WithOrigin(origin))
	}

	deps := Deps{
		Registry:  r,
		Backend:   a.Backend,
		Telemetry: a.Telemetry,
		Sync:      metasync.New(syncOpts...),
		Persist:   a.Config.PersistOptions(),
	}
	if a.Engine != nil {
		deps.Guard = policy.NewGuard(a.Engine, logger)
	}
	return deps, nil
}

// Bootstrap creates a store seeded with the configured seed state.
func (a *App) Bootstrap(ctx context.Context, cb Callback) (*Handle, error) {
	deps, err := a.Deps()
	if err != nil {
		if cb != nil {
			cb(err, nil)
		}
		return nil, err
	}
	h, err := Bootstrap(ctx, deps, a.Seed, cb)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.handles = append(a.handles, h)
	a.mu.Unlock()
	return h, nil
}

// Close stops every store, the policy watcher and the hub, then closes the backend.
func (a *App) Close() error {
	return a.Shutdown(context.Background())
}

// Shutdown is Close bounded by ctx.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	handles := a.handles
	a.handles = nil
	a.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := h.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.loader != nil {
		a.loader.StopWatching()
	}
	if a.Hub != nil {
		a.Hub.Close()
	}
	if a.Backend != nil {
		if err := a.Backend.Close(); err != nil {
			errs = append(errs, err)
		}
		a.Backend = nil
	}
	return errors.Join(errs...)
}

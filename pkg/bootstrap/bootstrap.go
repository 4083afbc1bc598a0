package bootstrap

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/statekeep/statekeep/pkg/metasync"
	"github.com/statekeep/statekeep/pkg/persist"
	"github.com/statekeep/statekeep/pkg/policy"
	"github.com/statekeep/statekeep/pkg/store"
	"github.com/statekeep/statekeep/pkg/telemetry"
)

// whitelist is the ordered set of persisted slices.
var whitelist = [...]string{"currentComponent", "currentTab"}

// Whitelist returns the names of the persisted slices. The result is a copy.
func Whitelist() []string {
	return append([]string(nil), whitelist[:]...)
}

// Callback receives the store once initial rehydration has finished.
// err is nil unless the store could not be built, or strict persistence
// is enabled and reading storage failed. In the latter case s is still usable.
type Callback func(err error, s *store.Store)

// Deps are the collaborators of a bootstrap.
type Deps struct {
	// Registry holds the slice reducers. Required.
	Registry *store.Registry

	// Backend stores persisted slices. Required.
	Backend persist.Backend

	// Telemetry defaults to telemetry.Nop().
	Telemetry *telemetry.Telemetry

	// Sync is the synchronization middleware. A standalone one is created when nil.
	Sync *metasync.Middleware

	// Guard rejects actions denied by policy. Optional.
	Guard *policy.Guard

	// Middleware runs after the built-in stages, in order.
	Middleware []store.Middleware

	// Persist configures the persistor. Whitelist is ignored.
	Persist persist.Options
}

// Handle owns the store and its persistor.
type Handle struct {
	Store     *store.Store
	Persistor *persist.Persistor
	Sync      *metasync.Middleware

	logger zerolog.Logger
	done   chan struct{}

	mu      sync.Mutex
	stopped bool
	detach  func()
}

// Bootstrap builds a store from deps and initial, starts persistence of the
// whitelisted slices and calls cb exactly once when rehydration completes.
//
// The middleware pipeline is, in order: sync, telemetry, policy guard, then
// deps.Middleware. Every dispatched action passes through all of them,
// including the rehydrate action.
//
// If the store cannot be built, cb receives the error and a nil store, and
// the same error is returned.
func Bootstrap(ctx context.Context, deps Deps, initial store.State, cb Callback) (*Handle, error) {
	var once sync.Once
	complete := func(err error, s *store.Store) {
		once.Do(func() {
			if cb != nil {
				cb(err, s)
			}
		})
	}

	h, err := build(deps, initial)
	if err != nil {
		complete(err, nil)
		return nil, err
	}

	if err := h.Persistor.Start(ctx); err != nil {
		complete(err, nil)
		return nil, err
	}

	go func() {
		defer close(h.done)
		<-h.Persistor.Ready()

		h.mu.Lock()
		if !h.stopped {
			h.detach = h.Sync.Attach(context.WithoutCancel(ctx), h.Store)
		}
		h.mu.Unlock()

		var cbErr error
		if deps.Persist.Strict {
			if err := h.Persistor.Err(); err != nil {
				cbErr = fmt.Errorf("rehydration failed: %w", err)
			}
		}
		h.logger.Debug().
			Str("phase", h.Persistor.Phase().String()).
			Bool("error", cbErr != nil).
			Msg("Store ready")
		complete(cbErr, h.Store)
	}()

	return h, nil
}

func build(deps Deps, initial store.State) (*Handle, error) {
	if deps.Registry == nil {
		return nil, store.NewConfigurationError("reducer registry is required", nil)
	}
	if deps.Backend == nil {
		return nil, store.NewConfigurationError("persistence backend is required", nil)
	}

	tel := deps.Telemetry
	if tel == nil {
		tel = telemetry.Nop()
	}
	logger := tel.Logger.Zerolog()

	syncer := deps.Sync
	if syncer == nil {
		syncer = metasync.New(
			metasync.WithLogger(logger),
			metasync.WithMetrics(tel.Metrics),
		)
	}

	pipeline := []store.Middleware{syncer, tel.Middleware()}
	if deps.Guard != nil {
		pipeline = append(pipeline, deps.Guard)
	}
	pipeline = append(pipeline, deps.Middleware...)

	s, err := store.New(deps.Registry, initial,
		store.WithEnhancers(store.AutoRehydrate(logger)),
		store.WithMiddleware(pipeline...),
		store.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	opts := deps.Persist
	opts.Whitelist = Whitelist()
	if opts.Logger == nil {
		opts.Logger = &logger
	}
	if opts.Metrics == nil {
		opts.Metrics = tel.Metrics
	}
	if opts.Tracer == nil {
		opts.Tracer = tel.Tracer
	}

	p, err := persist.New(s, deps.Backend, opts)
	if err != nil {
		return nil, err
	}

	return &Handle{
		Store:     s,
		Persistor: p,
		Sync:      syncer,
		logger:    logger.With().Str("component", "bootstrap").Logger(),
		done:      make(chan struct{}),
	}, nil
}

// Done is closed after the callback has returned.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Stop detaches the sync relay and stops the persistor, writing any
// pending changes. It is safe to call more than once and from the callback.
func (h *Handle) Stop(ctx context.Context) error {
	h.mu.Lock()
	h.stopped = true
	detach := h.detach
	h.detach = nil
	h.mu.Unlock()

	if detach != nil {
		detach()
	}
	return h.Persistor.Stop(ctx)
}

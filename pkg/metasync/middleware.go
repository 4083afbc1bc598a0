package metasync

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/statekeep/statekeep/pkg/store"
	"github.com/statekeep/statekeep/pkg/telemetry"
)

// Observer is called with every action the middleware sees, after stamping.
type Observer func(action store.Action)

// Dispatcher is the part of a store Attach needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, action store.Action) (store.Action, error)
}

// Option configures a Middleware.
type Option func(*Middleware)

// WithOrigin sets the origin identifier. Defaults to a random UUID.
func WithOrigin(origin string) Option {
	return func(m *Middleware) {
		if origin != "" {
			m.origin = origin
		}
	}
}

// WithBus publishes local actions to bus.
func WithBus(bus Bus) Option {
	return func(m *Middleware) {
		m.bus = bus
	}
}

// WithObserver registers fn to be called for every observed action.
func WithObserver(fn Observer) Option {
	return func(m *Middleware) {
		m.observers = append(m.observers, fn)
	}
}

// WithLogger sets the middleware logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Middleware) {
		m.logger = logger
	}
}

// WithMetrics records published and received actions.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Middleware) {
		m.metrics = metrics
	}
}

// WithClock overrides time.Now for Meta.Time.
func WithClock(now func() time.Time) Option {
	return func(m *Middleware) {
		m.now = now
	}
}

// Middleware stamps and relays actions. It implements store.Middleware.
type Middleware struct {
	origin    string
	bus       Bus
	observers []Observer
	logger    zerolog.Logger
	metrics   *telemetry.Metrics
	now       func() time.Time

	seq      atomic.Uint64
	observed atomic.Uint64
}

// New creates the sync middleware.
func New(opts ...Option) *Middleware {
	m := &Middleware{
		origin: uuid.NewString(),
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With().Str("component", "metasync").Str("origin", m.origin).Logger()
	return m
}

// Origin returns the origin identifier stamped on local actions.
func (m *Middleware) Origin() string {
	return m.origin
}

// Observed returns how many actions have passed through the middleware.
func (m *Middleware) Observed() uint64 {
	return m.observed.Load()
}

// Intercept implements store.Middleware.
func (m *Middleware) Intercept(ctx context.Context, action store.Action, next store.Next) (store.Action, error) {
	m.observed.Add(1)
	if action.Meta.ID == "" {
		action.Meta = store.Meta{
			ID:     uuid.NewString(),
			Seq:    m.seq.Add(1),
			Origin: m.origin,
			Time:   m.now().UTC(),
		}
	}
	for _, fn := range m.observers {
		fn(action)
	}

	result, err := next(ctx, action)
	if err != nil {
		return result, err
	}

	if m.bus != nil && m.syncable(action) {
		if err := m.bus.Publish(ctx, action); err != nil {
			m.logger.Warn().Err(err).Str("action", action.Type).Msg("Failed to publish action")
		} else {
			m.metrics.RecordSync("out")
		}
	}
	return result, nil
}

// syncable reports whether a successfully reduced action is published.
func (m *Middleware) syncable(action store.Action) bool {
	if action.Meta.Remote || action.Meta.Origin != m.origin {
		return false
	}
	if action.Type == store.ActionInit || strings.HasPrefix(action.Type, "persist/") {
		return false
	}
	return true
}

// Attach subscribes to the bus and re-dispatches actions from other origins
// into target with Meta.Remote set. The returned function detaches and waits
// for the relay goroutine to exit.
func (m *Middleware) Attach(ctx context.Context, target Dispatcher) func() {
	if m.bus == nil {
		return func() {}
	}

	ch, unsubscribe := m.bus.Subscribe(ExcludeOrigin(m.origin))
	ctx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case action, ok := <-ch:
				if !ok {
					return
				}
				action.Meta.Remote = true
				m.metrics.RecordSync("in")
				if _, err := target.Dispatch(ctx, action); err != nil {
					m.logger.Warn().
						Err(err).
						Str("action", action.Type).
						Str("from", action.Meta.Origin).
						Msg("Remote action rejected")
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			unsubscribe()
			wg.Wait()
		})
	}
}

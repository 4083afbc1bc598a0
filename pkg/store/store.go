package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Store is the state container. It is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	registry *Registry
	reducer  RootReducer
	state    State

	listenerMu sync.Mutex
	listeners  []listenerEntry
	nextID     uint64

	middleware []Middleware
	pipeline   Next

	logger zerolog.Logger
}

type listenerEntry struct {
	id uint64
	fn Listener
}

// Option configures a Store.
type Option func(*Store)

// WithMiddleware appends middleware to the pipeline. The first middleware sees
// actions first.
func WithMiddleware(m ...Middleware) Option {
	return func(s *Store) {
		s.middleware = append(s.middleware, m...)
	}
}

// WithEnhancers wraps the root reducer. The first enhancer is outermost.
func WithEnhancers(e ...Enhancer) Option {
	return func(s *Store) {
		for i := len(e) - 1; i >= 0; i-- {
			s.reducer = e[i](s.reducer)
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger.With().Str("component", "store").Logger()
	}
}

// New creates a store from a registry and an optional partial initial state.
// Slices missing from initial start at their registered initial value.
func New(registry *Registry, initial State, opts ...Option) (*Store, error) {
	if registry == nil {
		return nil, NewConfigurationError("registry is required", nil)
	}

	state, err := registry.Initial(initial)
	if err != nil {
		return nil, err
	}

	s := &Store{
		registry: registry,
		reducer:  registry.Reduce,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	// Let every slice see the init action once, as reducers may derive state from it.
	state, err = s.safeReduce(state, Action{Type: ActionInit})
	if err != nil {
		return nil, err
	}
	s.state = state

	for _, m := range s.middleware {
		if b, ok := m.(Binder); ok {
			b.Bind(s)
		}
	}
	s.pipeline = s.compose()

	s.logger.Debug().
		Int("slices", len(registry.Names())).
		Int("middleware", len(s.middleware)).
		Msg("Store created")

	return s, nil
}

// compose chains the middleware list in front of the reducer step.
func (s *Store) compose() Next {
	next := s.reduce
	for i := len(s.middleware) - 1; i >= 0; i-- {
		m := s.middleware[i]
		n := next
		next = func(ctx context.Context, action Action) (Action, error) {
			return m.Intercept(ctx, action, n)
		}
	}
	return next
}

// Dispatch sends an action through the middleware pipeline to the reducers.
// Errors from reducers and middleware are returned. When a reducer fails, or
// a middleware fails before calling next, state is unchanged and listeners
// are not notified. A middleware that fails after next returns sees the new
// state already committed. Listener panics are logged, not returned.
func (s *Store) Dispatch(ctx context.Context, action Action) (result Action, err error) {
	if action.Type == "" {
		return action, NewDispatchError("action type is required", nil).WithCode(ErrCodeInvalid)
	}

	defer func() {
		if r := recover(); r != nil {
			result = action
			err = NewDispatchError("middleware panicked", fmt.Errorf("%v", r)).
				WithAction(action.Type).
				WithCode(ErrCodePanic)
		}
	}()

	result, err = s.pipeline(ctx, action)
	if err != nil {
		var se *StoreError
		if !errors.As(err, &se) {
			err = NewDispatchError("middleware failed", err).
				WithAction(action.Type).
				WithCode(ErrCodeMiddleware)
		}
		s.logger.Debug().Err(err).Str("action", action.Type).Msg("Dispatch failed")
		return result, err
	}
	return result, nil
}

// reduce is the innermost pipeline step.
func (s *Store) reduce(_ context.Context, action Action) (Action, error) {
	s.mu.Lock()
	next, err := s.safeReduce(s.state, action)
	if err != nil {
		s.mu.Unlock()
		return action, err
	}
	s.state = next
	s.mu.Unlock()

	s.notify(next)
	return action, nil
}

func (s *Store) safeReduce(state State, action Action) (next State, err error) {
	defer func() {
		if r := recover(); r != nil {
			next = state
			err = NewDispatchError("reducer panicked", fmt.Errorf("%v", r)).
				WithAction(action.Type).
				WithCode(ErrCodePanic)
		}
	}()
	return s.reducer(state, action)
}

func (s *Store) notify(state State) {
	s.listenerMu.Lock()
	listeners := make([]listenerEntry, len(s.listeners))
	copy(listeners, s.listeners)
	s.listenerMu.Unlock()

	for _, l := range listeners {
		s.callListener(l, state)
	}
}

func (s *Store) callListener(l listenerEntry, state State) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Interface("panic", r).
				Uint64("listener", l.id).
				Msg("Listener panicked")
		}
	}()
	l.fn(state)
}

// GetState returns the current snapshot.
func (s *Store) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers a listener and returns a function that removes it.
// The returned function is safe to call more than once.
func (s *Store) Subscribe(listener Listener) func() {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: listener})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenerMu.Lock()
			defer s.listenerMu.Unlock()
			for i, l := range s.listeners {
				if l.id == id {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Registry returns the reducer registry backing the store.
func (s *Store) Registry() *Registry {
	return s.registry
}

// DecodeSlice decodes a persisted value for the named slice.
func (s *Store) DecodeSlice(name string, raw []byte) (any, error) {
	return s.registry.Decode(name, raw)
}

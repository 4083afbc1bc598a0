package store

import (
	"context"
	"reflect"
	"time"
)

// ActionRehydrate is dispatched once by a persistor with the slices read from storage.
const ActionRehydrate = "persist/REHYDRATE"

// ActionInit is the type of the action used to compute initial slice values.
const ActionInit = "store/INIT"

// Action describes a state transition request.
type Action struct {
	// Type identifies the transition, e.g. "navigation/SELECT_TAB".
	Type string `json:"type"`

	// Payload carries action-specific data.
	Payload any `json:"payload,omitempty"`

	// Meta is filled in by the synchronization middleware.
	Meta Meta `json:"meta,omitempty"`
}

// Meta is per-action bookkeeping used to order and deduplicate synchronized actions.
type Meta struct {
	ID     string    `json:"id,omitempty"`
	Seq    uint64    `json:"seq,omitempty"`
	Origin string    `json:"origin,omitempty"`
	Time   time.Time `json:"time,omitempty"`

	// Remote is set on actions replayed from another origin.
	Remote bool `json:"remote,omitempty"`
}

// Rehydration is the payload of an ActionRehydrate action.
type Rehydration struct {
	// Slices maps slice name to the decoded persisted value.
	Slices map[string]any

	// Err is the tolerated read failure, if any.
	Err error
}

// State is a snapshot of all slices. Treat it as immutable.
type State map[string]any

// Clone returns a shallow copy of the snapshot.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Get returns the value of a slice.
func (s State) Get(name string) (any, bool) {
	v, ok := s[name]
	return v, ok
}

// Reducer is a pure transition function for one slice.
type Reducer func(slice any, action Action) (any, error)

// RootReducer computes the next full snapshot.
type RootReducer func(state State, action Action) (State, error)

// Enhancer wraps a root reducer.
type Enhancer func(next RootReducer) RootReducer

// Listener is notified after every successful dispatch.
type Listener func(state State)

// Next continues dispatching an action down the pipeline.
type Next func(ctx context.Context, action Action) (Action, error)

// Middleware intercepts every dispatched action.
type Middleware interface {
	Intercept(ctx context.Context, action Action, next Next) (Action, error)
}

// MiddlewareFunc adapts a function to the Middleware interface.
type MiddlewareFunc func(ctx context.Context, action Action, next Next) (Action, error)

// Intercept calls f.
func (f MiddlewareFunc) Intercept(ctx context.Context, action Action, next Next) (Action, error) {
	return f(ctx, action, next)
}

// API is the view of the store handed to middleware that needs it.
type API interface {
	Dispatch(ctx context.Context, action Action) (Action, error)
	GetState() State
}

// Binder is implemented by middleware that wants a reference to the store API.
type Binder interface {
	Bind(api API)
}

// Equal reports whether two slice values are the same.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.DeepEqual(a, b)
}

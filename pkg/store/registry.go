package store

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Decoder turns persisted JSON back into a slice value.
type Decoder func(raw []byte) (any, error)

type slice struct {
	name    string
	initial any
	reduce  Reducer
	decode  Decoder
}

// Registry maps slice names to reducers. Registration order is preserved.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	slices map[string]*slice
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		slices: make(map[string]*slice),
	}
}

// Add registers an untyped slice. A nil decoder decodes JSON into generic values.
func (r *Registry) Add(name string, initial any, reduce Reducer, decode Decoder) error {
	if name == "" {
		return NewConfigurationError("slice name is required", nil)
	}
	if reduce == nil {
		return NewConfigurationError("reducer is required", nil).WithKey(name)
	}
	if decode == nil {
		decode = decodeAny
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.slices[name]; exists {
		return NewConfigurationError("slice already registered", ErrDuplicateSlice).WithKey(name)
	}
	r.slices[name] = &slice{name: name, initial: initial, reduce: reduce, decode: decode}
	r.order = append(r.order, name)
	return nil
}

// Register adds a typed slice. Values of other types reaching the reducer are
// replaced by the initial value, and persisted values decode into T.
func Register[T any](r *Registry, name string, initial T, reduce func(T, Action) (T, error)) error {
	if reduce == nil {
		return NewConfigurationError("reducer is required", nil).WithKey(name)
	}
	wrapped := func(current any, action Action) (any, error) {
		typed, ok := current.(T)
		if !ok {
			typed = initial
		}
		return reduce(typed, action)
	}
	decode := func(raw []byte) (any, error) {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
	return r.Add(name, initial, wrapped, decode)
}

// MustRegister is Register that panics on error. Intended for package-level wiring.
func MustRegister[T any](r *Registry, name string, initial T, reduce func(T, Action) (T, error)) {
	if err := Register(r, name, initial, reduce); err != nil {
		panic(err)
	}
}

// Names returns slice names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Has reports whether a slice is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.slices[name]
	return ok
}

// Decode decodes a persisted value for the named slice.
func (r *Registry) Decode(name string, raw []byte) (any, error) {
	r.mu.RLock()
	s, ok := r.slices[name]
	r.mu.RUnlock()
	if !ok {
		return nil, NewConfigurationError("cannot decode slice", ErrUnknownSlice).WithKey(name)
	}
	v, err := s.decode(raw)
	if err != nil {
		return nil, NewReadError("failed to decode slice", err).WithKey(name).WithCode(ErrCodeDecode)
	}
	return v, nil
}

// Reduce is the combined root reducer. It returns the input snapshot unchanged
// when no slice changed.
func (r *Registry) Reduce(state State, action Action) (State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	next := make(State, len(r.order))
	changed := len(state) != len(r.order)
	for _, name := range r.order {
		s := r.slices[name]
		prev, ok := state[name]
		if !ok {
			prev = s.initial
			changed = true
		}
		value, err := s.reduce(prev, action)
		if err != nil {
			return state, NewDispatchError("reducer failed", err).
				WithKey(name).
				WithAction(action.Type).
				WithCode(ErrCodeReducer)
		}
		next[name] = value
		if !changed && !Equal(prev, value) {
			changed = true
		}
	}
	if !changed {
		return state, nil
	}
	return next, nil
}

// Initial builds a snapshot from initial values overlaid with seed.
func (r *Registry) Initial(seed State) (State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name := range seed {
		if _, ok := r.slices[name]; !ok {
			return nil, NewConfigurationError("initial state names an unregistered slice", ErrUnknownSlice).
				WithKey(name).
				WithCode(ErrCodeUnknownSlice)
		}
	}

	out := make(State, len(r.order))
	for _, name := range r.order {
		if v, ok := seed[name]; ok {
			out[name] = v
			continue
		}
		out[name] = r.slices[name].initial
	}
	return out, nil
}

func decodeAny(raw []byte) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return v, nil
}

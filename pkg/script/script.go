package script

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/statekeep/statekeep/pkg/store"
)

const (
	// DefaultMaxSteps bounds the work of a single reducer call.
	DefaultMaxSteps uint64 = 1_000_000

	// DefaultTimeout bounds the wall time of a single reducer call.
	DefaultTimeout = time.Second
)

// Option configures a Module.
type Option func(*Module)

// WithMaxSteps sets the execution step limit per reducer call. Zero disables it.
func WithMaxSteps(n uint64) Option {
	return func(m *Module) {
		m.maxSteps = n
	}
}

// WithTimeout sets the wall time limit per reducer call. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(m *Module) {
		m.timeout = d
	}
}

// WithLogger sets the logger that receives script print output.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Module) {
		m.logger = logger.With().Str("component", "script").Logger()
	}
}

// Module is a loaded reducer script.
type Module struct {
	filename string
	order    []string
	reducers map[string]starlark.Callable
	initial  map[string]any

	maxSteps uint64
	timeout  time.Duration
	logger   zerolog.Logger
}

// LoadFile reads and executes a reducer script from disk.
func LoadFile(path string, opts ...Option) (*Module, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return Load(path, src, opts...)
}

// Load executes a reducer script. The script must define a global dict
// slices mapping slice names to functions of (state, action). An optional
// global dict initial holds the initial slice values.
func Load(filename string, src []byte, opts ...Option) (*Module, error) {
	m := &Module{
		filename: filename,
		reducers: make(map[string]starlark.Callable),
		initial:  make(map[string]any),
		maxSteps: DefaultMaxSteps,
		timeout:  DefaultTimeout,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	thread := m.newThread("load")
	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}
	globals, err := starlark.ExecFile(thread, filename, src, predeclared)
	if err != nil {
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}

	slices, ok := globals["slices"].(*starlark.Dict)
	if !ok {
		return nil, fmt.Errorf("%s: global slices must be a dict", filename)
	}
	for _, item := range slices.Items() {
		name, ok := item[0].(starlark.String)
		if !ok || name == "" {
			return nil, fmt.Errorf("%s: slice names must be non-empty strings, got %s", filename, item[0])
		}
		fn, ok := item[1].(starlark.Callable)
		if !ok {
			return nil, fmt.Errorf("%s: reducer for %s is %s, not callable", filename, name, item[1].Type())
		}
		m.order = append(m.order, string(name))
		m.reducers[string(name)] = fn
	}

	if raw, ok := globals["initial"]; ok {
		initial, ok := raw.(*starlark.Dict)
		if !ok {
			return nil, fmt.Errorf("%s: global initial must be a dict", filename)
		}
		for _, item := range initial.Items() {
			name, _ := item[0].(starlark.String)
			if _, known := m.reducers[string(name)]; !known {
				return nil, fmt.Errorf("%s: initial value for unknown slice %s", filename, item[0])
			}
			v, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, fmt.Errorf("%s: initial value of %s: %w", filename, name, err)
			}
			m.initial[string(name)] = v
		}
	}

	m.logger.Debug().
		Str("file", filename).
		Strs("slices", m.order).
		Msg("Reducer script loaded")

	return m, nil
}

// Names returns the slice names in script order.
func (m *Module) Names() []string {
	return append([]string(nil), m.order...)
}

// Initial returns the initial value of a slice.
func (m *Module) Initial(name string) any {
	return m.initial[name]
}

// Reducer returns the store reducer for a slice.
func (m *Module) Reducer(name string) (store.Reducer, error) {
	fn, ok := m.reducers[name]
	if !ok {
		return nil, fmt.Errorf("script %s has no slice %s", m.filename, name)
	}
	return func(slice any, action store.Action) (any, error) {
		return m.call(name, fn, slice, action)
	}, nil
}

// Register adds every scripted slice to r.
func (m *Module) Register(r *store.Registry) error {
	for _, name := range m.order {
		reduce, err := m.Reducer(name)
		if err != nil {
			return err
		}
		if err := r.Add(name, m.initial[name], reduce, decodeJSON); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) newThread(name string) *starlark.Thread {
	thread := &starlark.Thread{
		Name: name,
		Print: func(t *starlark.Thread, msg string) {
			m.logger.Debug().Str("thread", t.Name).Msg(msg)
		},
	}
	if m.maxSteps > 0 {
		thread.SetMaxExecutionSteps(m.maxSteps)
	}
	return thread
}

// call runs one reducer on a fresh thread. Each call converts the slice
// anew, so scripts cannot mutate store state in place.
func (m *Module) call(name string, fn starlark.Callable, slice any, action store.Action) (any, error) {
	sv, err := toStarlarkValue(slice)
	if err != nil {
		return nil, fmt.Errorf("slice %s: %w", name, err)
	}
	av, err := actionValue(action)
	if err != nil {
		return nil, err
	}

	thread := m.newThread("reduce:" + name)
	if m.timeout > 0 {
		timer := time.AfterFunc(m.timeout, func() {
			thread.Cancel(fmt.Sprintf("reducer timeout after %v", m.timeout))
		})
		defer timer.Stop()
	}

	result, err := starlark.Call(thread, fn, starlark.Tuple{sv, av}, nil)
	if err != nil {
		return nil, fmt.Errorf("reducer %s: %w", name, err)
	}
	return fromStarlarkValue(result)
}

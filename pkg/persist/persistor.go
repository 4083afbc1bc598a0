package persist

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/statekeep/statekeep/pkg/store"
	"github.com/statekeep/statekeep/pkg/telemetry"
	"go.opentelemetry.io/otel/trace"
)

// DefaultKeyPrefix is prepended to slice names to form backend keys.
const DefaultKeyPrefix = "statekeep:"

// DefaultRehydrateTimeout bounds the initial read of persisted slices.
const DefaultRehydrateTimeout = 5 * time.Second

// Phase is the lifecycle state of a Persistor.
type Phase int32

const (
	PhaseUninitialized Phase = iota
	PhaseRehydrating
	PhaseReady
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseRehydrating:
		return "rehydrating"
	case PhaseReady:
		return "ready"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Target is the store a Persistor reads from and rehydrates.
type Target interface {
	Dispatch(ctx context.Context, action store.Action) (store.Action, error)
	GetState() store.State
	Subscribe(listener store.Listener) func()
	DecodeSlice(name string, raw []byte) (any, error)
}

// Options configures a Persistor.
type Options struct {
	// Whitelist names the slices that are read and written. Required.
	Whitelist []string

	// KeyPrefix is prepended to slice names. Defaults to DefaultKeyPrefix.
	KeyPrefix string

	// Debounce delays writes so bursts of changes produce one write per key.
	Debounce time.Duration

	// RehydrateTimeout bounds the initial read. Defaults to DefaultRehydrateTimeout.
	RehydrateTimeout time.Duration

	// Strict makes Wait return rehydration read failures.
	Strict bool

	// Logger defaults to a disabled logger.
	Logger *zerolog.Logger

	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
}

// Persistor mirrors whitelisted slices of a store into a Backend.
type Persistor struct {
	target  Target
	backend Backend
	opts    Options
	allowed map[string]bool
	logger  zerolog.Logger

	phase atomic.Int32

	mu      sync.Mutex
	last    map[string]any
	pending map[string]struct{}
	paused  bool
	readErr error

	ready      chan struct{}
	wake       chan struct{}
	flushReq   chan chan error
	stopCh     chan struct{}
	done       chan struct{}
	rehydrated chan struct{}

	writeCtx        context.Context
	writeCancel     context.CancelFunc
	rehydrateCancel context.CancelFunc

	unsubscribe func()
	stopOnce    sync.Once
}

// New creates a persistor. It does nothing until Start is called.
func New(target Target, backend Backend, opts Options) (*Persistor, error) {
	if target == nil {
		return nil, store.NewConfigurationError("persist target is required", nil)
	}
	if backend == nil {
		return nil, store.NewConfigurationError("persist backend is required", nil)
	}
	if len(opts.Whitelist) == 0 {
		return nil, store.NewConfigurationError("persist whitelist is empty", nil)
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	if opts.RehydrateTimeout <= 0 {
		opts.RehydrateTimeout = DefaultRehydrateTimeout
	}
	opts.Whitelist = append([]string(nil), opts.Whitelist...)

	allowed := make(map[string]bool, len(opts.Whitelist))
	for _, key := range opts.Whitelist {
		allowed[key] = true
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Persistor{
		target:     target,
		backend:    backend,
		opts:       opts,
		allowed:    allowed,
		logger:     logger.With().Str("component", "persist").Logger(),
		last:       make(map[string]any),
		pending:    make(map[string]struct{}),
		ready:      make(chan struct{}),
		wake:       make(chan struct{}, 1),
		flushReq:   make(chan chan error),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
		rehydrated: make(chan struct{}),
	}, nil
}

// Start subscribes to the store, starts the writer goroutine and begins
// rehydration in the background. ctx bounds rehydration only; the persistor
// runs until Stop.
func (p *Persistor) Start(ctx context.Context) error {
	if !p.phase.CompareAndSwap(int32(PhaseUninitialized), int32(PhaseRehydrating)) {
		return store.NewConfigurationError("persistor already started", nil)
	}

	p.writeCtx, p.writeCancel = context.WithCancel(context.WithoutCancel(ctx))
	rctx, cancel := context.WithTimeout(ctx, p.opts.RehydrateTimeout)
	p.rehydrateCancel = cancel

	p.unsubscribe = p.target.Subscribe(p.onChange)
	go p.run()
	go func() {
		defer close(p.rehydrated)
		defer cancel()
		p.rehydrate(rctx)
	}()
	return nil
}

// Ready is closed once initial rehydration has finished, whatever its outcome.
func (p *Persistor) Ready() <-chan struct{} {
	return p.ready
}

// Wait blocks until rehydration has finished. In strict mode it returns the
// read failure, if any.
func (p *Persistor) Wait(ctx context.Context) error {
	select {
	case <-p.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	if p.opts.Strict {
		return p.Err()
	}
	return nil
}

// Phase returns the current lifecycle phase.
func (p *Persistor) Phase() Phase {
	return Phase(p.phase.Load())
}

// Err returns the error recorded while reading persisted slices, if any.
func (p *Persistor) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readErr
}

// Whitelist returns the persisted slice names.
func (p *Persistor) Whitelist() []string {
	return append([]string(nil), p.opts.Whitelist...)
}

// KeyPrefix returns the prefix of backend keys.
func (p *Persistor) KeyPrefix() string {
	return p.opts.KeyPrefix
}

func (p *Persistor) key(name string) string {
	return p.opts.KeyPrefix + name
}

func (p *Persistor) rehydrate(ctx context.Context) {
	timer := telemetry.NewTimer()
	if p.opts.Tracer != nil {
		var span trace.Span
		ctx, span = p.opts.Tracer.StartRehydrateSpan(ctx, p.opts.Whitelist)
		defer func() {
			if err := p.Err(); err != nil {
				telemetry.RecordError(span, err)
			} else {
				telemetry.RecordSuccess(span)
			}
			span.End()
		}()
	}

	slices, readErr := p.read(ctx)
	if ctx.Err() != nil {
		// Deadline or cancellation: keep the initial state.
		readErr = errors.Join(readErr, store.NewReadError("rehydration interrupted", ctx.Err()))
		slices = map[string]any{}
	}
	if readErr != nil {
		p.logger.Warn().Err(readErr).Msg("Persisted state could not be fully read, continuing")
	}

	action := store.Action{
		Type:    store.ActionRehydrate,
		Payload: store.Rehydration{Slices: slices, Err: readErr},
	}
	if _, err := p.target.Dispatch(context.WithoutCancel(ctx), action); err != nil {
		p.logger.Error().Err(err).Msg("Rehydrate action failed")
		readErr = errors.Join(readErr, err)
	}

	p.mu.Lock()
	for key, value := range slices {
		p.last[key] = value
	}
	p.readErr = readErr
	p.mu.Unlock()

	if p.Phase() != PhaseStopped {
		p.removeStale(context.WithoutCancel(ctx))
	}

	p.phase.CompareAndSwap(int32(PhaseRehydrating), int32(PhaseReady))
	p.onChange(p.target.GetState())
	close(p.ready)

	outcome := "restored"
	switch {
	case readErr != nil:
		outcome = "failed"
		p.opts.Metrics.RecordError(string(store.ClassOf(readErr)))
	case len(slices) == 0:
		outcome = "empty"
	}
	p.opts.Metrics.RecordRehydrate(outcome, timer.Duration())
	p.logger.Debug().
		Str("outcome", outcome).
		Int("slices", len(slices)).
		Dur("duration", timer.Duration()).
		Msg("Rehydration complete")
}

// read loads every whitelisted slice. Failures are per key.
func (p *Persistor) read(ctx context.Context) (map[string]any, error) {
	slices := make(map[string]any, len(p.opts.Whitelist))
	var errs []error
	for _, name := range p.opts.Whitelist {
		if ctx.Err() != nil {
			break
		}
		raw, err := p.backend.Get(ctx, p.key(name))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, store.NewReadError("failed to read slice", err).WithKey(name))
			continue
		}
		data, err := Open(raw)
		if err != nil {
			errs = append(errs, store.NewReadError("stored slice is corrupt", err).WithKey(name).WithCode(store.ErrCodeDecode))
			continue
		}
		value, err := p.target.DecodeSlice(name, data)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		slices[name] = value
	}
	return slices, errors.Join(errs...)
}

// removeStale deletes keys under the prefix that are no longer whitelisted.
func (p *Persistor) removeStale(ctx context.Context) {
	keys, err := p.backend.Keys(ctx, p.opts.KeyPrefix)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to list persisted keys")
		return
	}
	for _, key := range keys {
		name := strings.TrimPrefix(key, p.opts.KeyPrefix)
		if p.allowed[name] {
			continue
		}
		if err := p.backend.Remove(ctx, key); err != nil {
			p.logger.Warn().Err(err).Str("key", key).Msg("Failed to remove stale slice")
			continue
		}
		p.logger.Debug().Str("key", key).Msg("Removed stale slice")
	}
}

// onChange is the store listener. It only records which keys differ from
// what was last stored.
func (p *Persistor) onChange(state store.State) {
	if p.Phase() != PhaseReady {
		return
	}
	p.mu.Lock()
	for _, name := range p.opts.Whitelist {
		value, ok := state[name]
		if !ok {
			continue
		}
		if prev, seen := p.last[name]; seen && store.Equal(prev, value) {
			continue
		}
		p.pending[name] = struct{}{}
	}
	n := len(p.pending)
	p.mu.Unlock()

	if n == 0 {
		return
	}
	p.opts.Metrics.SetPendingWrites(n)
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// run is the writer goroutine.
func (p *Persistor) run() {
	defer close(p.done)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-p.stopCh:
			if timer != nil {
				timer.Stop()
			}
			if err := p.write(true); err != nil {
				p.logger.Warn().Err(err).Msg("Final flush failed")
			}
			return
		case reply := <-p.flushReq:
			reply <- p.write(true)
		case <-p.wake:
			if p.opts.Debounce <= 0 {
				_ = p.write(false)
				continue
			}
			if fire == nil {
				timer = time.NewTimer(p.opts.Debounce)
				fire = timer.C
			}
		case <-fire:
			timer, fire = nil, nil
			_ = p.write(false)
		}
	}
}

// write stores every pending key. Paused persistors only write when forced.
func (p *Persistor) write(force bool) error {
	p.mu.Lock()
	if p.paused && !force {
		p.mu.Unlock()
		return nil
	}
	keys := make([]string, 0, len(p.pending))
	for key := range p.pending {
		keys = append(keys, key)
	}
	p.pending = make(map[string]struct{})
	p.mu.Unlock()

	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)
	p.opts.Metrics.SetPendingWrites(0)

	state := p.target.GetState()
	var errs []error
	for _, name := range keys {
		value, ok := state[name]
		if !ok {
			continue
		}
		p.mu.Lock()
		prev, seen := p.last[name]
		p.mu.Unlock()
		if seen && store.Equal(prev, value) {
			continue
		}

		err := p.writeKey(name, value)
		p.opts.Metrics.RecordWrite(name, err)
		if err != nil {
			// Not marked as stored, so the next change retries it.
			p.opts.Metrics.RecordError(string(store.ErrorClassPersistenceWrite))
			p.logger.Warn().Err(err).Str("key", name).Msg("Failed to persist slice")
			errs = append(errs, err)
			continue
		}
		p.mu.Lock()
		p.last[name] = value
		p.mu.Unlock()
		p.logger.Debug().Str("key", name).Msg("Slice persisted")
	}
	return errors.Join(errs...)
}

func (p *Persistor) writeKey(name string, value any) (err error) {
	ctx := p.writeCtx
	if p.opts.Tracer != nil {
		var span trace.Span
		ctx, span = p.opts.Tracer.StartWriteSpan(ctx, name)
		defer func() {
			telemetry.RecordError(span, err)
			span.End()
		}()
	}

	sealed, err := Seal(value)
	if err != nil {
		return store.NewWriteError("failed to encode slice", err).WithKey(name)
	}
	if err := p.backend.Set(ctx, p.key(name), sealed); err != nil {
		return store.NewWriteError("failed to write slice", err).WithKey(name)
	}
	return nil
}

// Pause stops writes. Changes are still recorded and written after Resume.
func (p *Persistor) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
	p.logger.Debug().Msg("Persistence paused")
}

// Resume re-enables writes and writes anything recorded while paused.
func (p *Persistor) Resume() {
	p.mu.Lock()
	p.paused = false
	n := len(p.pending)
	p.mu.Unlock()
	p.logger.Debug().Int("pending", n).Msg("Persistence resumed")
	if n > 0 {
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
}

// Flush writes every pending key now, ignoring debounce and pause, and
// returns the joined write errors.
func (p *Persistor) Flush(ctx context.Context) error {
	if p.Phase() == PhaseUninitialized {
		return store.NewConfigurationError("persistor not started", nil)
	}
	reply := make(chan error, 1)
	select {
	case p.flushReq <- reply:
	case <-p.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Purge removes stored slices. With no keys it removes every whitelisted slice.
func (p *Persistor) Purge(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		keys = p.opts.Whitelist
	}
	var errs []error
	for _, name := range keys {
		if err := p.backend.Remove(ctx, p.key(name)); err != nil {
			errs = append(errs, store.NewWriteError("failed to purge slice", err).WithKey(name))
			continue
		}
		p.mu.Lock()
		delete(p.last, name)
		delete(p.pending, name)
		p.mu.Unlock()
	}
	p.logger.Info().Strs("keys", keys).Msg("Purged persisted slices")
	return errors.Join(errs...)
}

// Stop unsubscribes from the store, writes anything pending and stops the
// writer goroutine. It is safe to call more than once. When ctx expires
// first the persistor is still torn down: it stops observing the store and
// abandons in-flight writes, and a later Stop waits for the remaining
// goroutines.
func (p *Persistor) Stop(ctx context.Context) error {
	if p.Phase() == PhaseUninitialized {
		p.phase.Store(int32(PhaseStopped))
		return nil
	}

	p.stopOnce.Do(func() {
		p.rehydrateCancel()
		// An in-flight rehydration is given until ctx expires so its
		// result can still be flushed.
		select {
		case <-p.rehydrated:
		case <-ctx.Done():
		}
		p.phase.Store(int32(PhaseStopped))
		p.unsubscribe()
		close(p.stopCh)
	})

	for _, ch := range []<-chan struct{}{p.rehydrated, p.done} {
		select {
		case <-ch:
		case <-ctx.Done():
			p.writeCancel()
			return ctx.Err()
		}
	}
	p.writeCancel()
	p.logger.Debug().Msg("Persistor stopped")
	return nil
}

package metasync

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/statekeep/statekeep/pkg/store"
	"github.com/statekeep/statekeep/pkg/telemetry"
)

// ErrHubClosed is returned when publishing to a closed hub.
var ErrHubClosed = errors.New("sync hub closed")

// Bus carries synchronized actions between stores.
type Bus interface {
	Publish(ctx context.Context, action store.Action) error
	Subscribe(filter Filter) (<-chan store.Action, func())
}

// Filter determines if an action should be delivered to a subscriber.
type Filter func(action store.Action) bool

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithBufferSize sets the per-subscriber channel capacity.
func WithBufferSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

// WithHubLogger sets the hub logger.
func WithHubLogger(logger zerolog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = logger.With().Str("component", "sync-hub").Logger()
	}
}

// WithHubMetrics records dropped deliveries.
func WithHubMetrics(m *telemetry.Metrics) HubOption {
	return func(h *Hub) {
		h.metrics = m
	}
}

// Hub is an in-process Bus. Each subscriber owns a buffered channel;
// deliveries to a full channel are dropped rather than blocking the publisher.
type Hub struct {
	bufferSize int
	logger     zerolog.Logger
	metrics    *telemetry.Metrics

	mu     sync.RWMutex
	subs   map[uint64]subscriberEntry
	nextID uint64
	closed bool
}

type subscriberEntry struct {
	ch     chan store.Action
	filter Filter
}

// NewHub creates an in-process bus.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		bufferSize: 64,
		logger:     zerolog.Nop(),
		subs:       make(map[uint64]subscriberEntry),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish delivers action to every subscriber whose filter accepts it.
func (h *Hub) Publish(ctx context.Context, action store.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrHubClosed
	}

	for id, entry := range h.subs {
		if entry.filter != nil && !entry.filter(action) {
			continue
		}
		select {
		case entry.ch <- action:
		default:
			h.metrics.RecordSyncDropped()
			h.logger.Warn().
				Uint64("subscriber", id).
				Str("action", action.Type).
				Msg("Subscriber buffer full, action dropped")
		}
	}
	return nil
}

// Subscribe registers a subscriber. The returned function removes it and
// closes its channel; it is safe to call more than once.
func (h *Hub) Subscribe(filter Filter) (<-chan store.Action, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan store.Action, h.bufferSize)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	h.nextID++
	id := h.nextID
	h.subs[id] = subscriberEntry{ch: ch, filter: filter}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if entry, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(entry.ch)
			}
		})
	}
}

// Close closes every subscriber channel. Later publishes fail with ErrHubClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, entry := range h.subs {
		close(entry.ch)
		delete(h.subs, id)
	}
}

// Common filters.

// FilterByType accepts only the given action types.
func FilterByType(types ...string) Filter {
	allowed := make(map[string]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}
	return func(action store.Action) bool {
		return allowed[action.Type]
	}
}

// ExcludeOrigin rejects actions stamped by origin.
func ExcludeOrigin(origin string) Filter {
	return func(action store.Action) bool {
		return action.Meta.Origin != origin
	}
}

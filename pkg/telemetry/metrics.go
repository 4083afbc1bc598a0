package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics provides Prometheus metrics for the store, persistor and sync layers.
// A nil *Metrics is a valid no-op collector.
type Metrics struct {
	config MetricsConfig

	// Dispatch metrics
	dispatches       *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec

	// Persistence metrics
	rehydrations      *prometheus.CounterVec
	rehydrateDuration prometheus.Histogram
	writes            *prometheus.CounterVec
	writeErrors       *prometheus.CounterVec
	pendingWrites     prometheus.Gauge

	// Sync metrics
	syncBroadcasts *prometheus.CounterVec
	syncDropped    prometheus.Counter

	// Policy metrics
	policyDenials *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatches_total",
				Help:      "Total number of dispatched actions",
			},
			[]string{"action", "result"},
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Duration of action dispatch through middleware and reducers",
				Buckets:   buckets,
			},
			[]string{"action"},
		),

		rehydrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rehydrations_total",
				Help:      "Total number of store rehydrations",
			},
			[]string{"outcome"},
		),
		rehydrateDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rehydrate_duration_seconds",
				Help:      "Duration of reading persisted slices and dispatching the rehydrate action",
				Buckets:   buckets,
			},
		),
		writes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persisted_writes_total",
				Help:      "Total number of slice writes to the persistence backend",
			},
			[]string{"key"},
		),
		writeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persisted_write_errors_total",
				Help:      "Total number of failed slice writes",
			},
			[]string{"key"},
		),
		pendingWrites: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_writes",
				Help:      "Number of slices waiting to be written",
			},
		),

		syncBroadcasts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_broadcasts_total",
				Help:      "Total number of actions broadcast or received by the sync middleware",
			},
			[]string{"direction"},
		),
		syncDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_dropped_total",
				Help:      "Total number of synchronized actions dropped because a subscriber was full",
			},
		),

		policyDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_denials_total",
				Help:      "Total number of actions rejected by the action policy",
			},
			[]string{"action"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
	}

	registry.MustRegister(
		m.dispatches,
		m.dispatchDuration,
		m.rehydrations,
		m.rehydrateDuration,
		m.writes,
		m.writeErrors,
		m.pendingWrites,
		m.syncBroadcasts,
		m.syncDropped,
		m.policyDenials,
		m.errorsByClass,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// RecordDispatch records one dispatched action.
func (m *Metrics) RecordDispatch(action string, err error, duration time.Duration) {
	if !m.enabled() {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.dispatches.WithLabelValues(action, result).Inc()
	m.dispatchDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordRehydrate records a completed rehydration. Outcome is one of
// "restored", "empty" or "failed".
func (m *Metrics) RecordRehydrate(outcome string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.rehydrations.WithLabelValues(outcome).Inc()
	m.rehydrateDuration.Observe(duration.Seconds())
}

// RecordWrite records a slice write attempt.
func (m *Metrics) RecordWrite(key string, err error) {
	if !m.enabled() {
		return
	}
	if err != nil {
		m.writeErrors.WithLabelValues(key).Inc()
		return
	}
	m.writes.WithLabelValues(key).Inc()
}

// SetPendingWrites sets the number of queued slice writes.
func (m *Metrics) SetPendingWrites(n int) {
	if !m.enabled() {
		return
	}
	m.pendingWrites.Set(float64(n))
}

// RecordSync records an action leaving ("out") or entering ("in") through the sync bus.
func (m *Metrics) RecordSync(direction string) {
	if !m.enabled() {
		return
	}
	m.syncBroadcasts.WithLabelValues(direction).Inc()
}

// RecordSyncDropped records a synchronized action dropped for a slow subscriber.
func (m *Metrics) RecordSyncDropped() {
	if !m.enabled() {
		return
	}
	m.syncDropped.Inc()
}

// RecordPolicyDenial records an action rejected by policy.
func (m *Metrics) RecordPolicyDenial(action string) {
	if !m.enabled() {
		return
	}
	m.policyDenials.WithLabelValues(action).Inc()
}

// RecordError records an error by class.
func (m *Metrics) RecordError(errorClass string) {
	if !m.enabled() || errorClass == "" {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer(logger zerolog.Logger) error {
	if !m.enabled() {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", m.config.ListenAddress).Msg("Metrics server stopped")
		}
	}()

	return nil
}

// StopMetricsServer shuts down the metrics HTTP server if it was started.
func (m *Metrics) StopMetricsServer(ctx context.Context) error {
	if m == nil || m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}

// Package telemetry provides observability instrumentation for statekeep.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry) and metrics (Prometheus) behind one Telemetry value that is
// built from configuration and threaded through the store, the persistor and
// the sync layer.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
//	logger := tel.Logger.NewComponentLogger("persist")
//	logger.WithKey("currentTab").Debug("Slice written")
//	logger.WithAction("navigation/SELECT_TAB").WithError(err).Error("Dispatch failed")
//
// Components that only need a zerolog.Logger take Logger.Zerolog().
//
// Log levels: trace, debug, info, warn, error, fatal, disabled
//
// # Dispatch Instrumentation
//
// Telemetry.Middleware returns a store.Middleware. Install it first so it
// observes every action including those rejected further down the pipeline:
//
//	st, err := store.New(registry, nil,
//	    store.WithMiddleware(tel.Middleware(), syncer, guard))
//
// Each dispatch gets a "store.dispatch" span and increments
// statekeep_dispatches_total{action,result}.
//
// # Metrics
//
// Key metrics exposed:
//
//   - statekeep_dispatches_total{action,result}
//   - statekeep_dispatch_duration_seconds{action}
//   - statekeep_rehydrations_total{outcome}
//   - statekeep_rehydrate_duration_seconds
//   - statekeep_persisted_writes_total{key}
//   - statekeep_persisted_write_errors_total{key}
//   - statekeep_pending_writes
//   - statekeep_sync_broadcasts_total{direction}
//   - statekeep_sync_dropped_total
//   - statekeep_policy_denials_total{action}
//   - statekeep_errors_by_class_total{class}
//
// A nil *Metrics ignores every Record call, so components may be built
// without metrics.
//
// # Exporters
//
// Tracing supports:
//
//   - "stdout": print spans to stdout (development)
//   - "otlp": export via OTLP/gRPC
//   - "none": generate spans without exporting them
//
// # Graceful Shutdown
//
//	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
//	defer cancel()
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("telemetry shutdown: %v", err)
//	}
package telemetry

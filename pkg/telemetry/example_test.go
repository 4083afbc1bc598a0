package telemetry_test

import (
	"context"
	"fmt"

	"github.com/statekeep/statekeep/pkg/store"
	"github.com/statekeep/statekeep/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	if err := tel.StartMetricsServer(); err != nil {
		panic(err)
	}

	ctx := tel.WithContext(context.Background())
	telemetry.FromContext(ctx).Info("Application started")
}

// Example_structuredLogging demonstrates component loggers.
func Example_structuredLogging() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stdout"
	cfg.Tracing.Enabled = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	logger := tel.Logger.NewComponentLogger("persist").WithKey("currentTab")
	logger.Debug("Slice queued")

	err := fmt.Errorf("disk full")
	logger.WithError(err).Error("Slice write failed")
}

// Example_instrumentedOperation demonstrates StartOperation.
func Example_instrumentedOperation() {
	tel := telemetry.Nop()
	ctx := tel.WithContext(context.Background())

	ic := telemetry.StartOperation(ctx, "persist.purge", attribute.Int("keys", 2))
	ic.Logger.Info("Purging persisted slices")
	ic.End(nil)
}

// Example_dispatchMiddleware demonstrates instrumenting a store.
func Example_dispatchMiddleware() {
	tel := telemetry.Nop()

	registry := store.NewRegistry()
	store.MustRegister(registry, "counter", 0, func(n int, a store.Action) (int, error) {
		if a.Type == "counter/INC" {
			return n + 1, nil
		}
		return n, nil
	})

	st, err := store.New(registry, nil, store.WithMiddleware(tel.Middleware()))
	if err != nil {
		panic(err)
	}
	_, _ = st.Dispatch(context.Background(), store.Action{Type: "counter/INC"})
	fmt.Println(st.GetState()["counter"])
	// Output: 1
}

package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/statekeep/statekeep/pkg/store"
)

func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func enabledMetrics(t *testing.T) *Metrics {
	t.Helper()
	cfg := DefaultConfig().Metrics
	m, err := NewMetrics(cfg)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	return m
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "disabled level", mutate: func(c *Config) { c.Logging.Level = "disabled" }},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "bad exporter", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "jaeger"
		}, wantErr: true},
		{name: "bad sampling", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: true},
		{name: "missing metrics address", mutate: func(c *Config) { c.Metrics.ListenAddress = "" }, wantErr: true},
		{name: "missing service", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":    zerolog.DebugLevel,
		"warn":     zerolog.WarnLevel,
		"disabled": zerolog.Disabled,
		"bogus":    zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNilMetricsAreNoop(t *testing.T) {
	var m *Metrics
	m.RecordDispatch("a", nil, time.Millisecond)
	m.RecordRehydrate("restored", time.Millisecond)
	m.RecordWrite("k", errors.New("boom"))
	m.SetPendingWrites(3)
	m.RecordSync("out")
	m.RecordSyncDropped()
	m.RecordPolicyDenial("a")
	m.RecordError("dispatch")
	if m.Registry() != nil {
		t.Error("nil metrics should have no registry")
	}
}

func TestMetricsRecordWrite(t *testing.T) {
	m := enabledMetrics(t)
	m.RecordWrite("currentTab", nil)
	m.RecordWrite("currentTab", nil)
	m.RecordWrite("currentTab", errors.New("disk full"))

	if got := counterValue(t, m, "statekeep_persisted_writes_total", map[string]string{"key": "currentTab"}); got != 2 {
		t.Errorf("writes = %v, want 2", got)
	}
	if got := counterValue(t, m, "statekeep_persisted_write_errors_total", map[string]string{"key": "currentTab"}); got != 1 {
		t.Errorf("write errors = %v, want 1", got)
	}
}

func TestMiddlewareRecordsDispatches(t *testing.T) {
	tel := Nop()
	tel.Metrics = enabledMetrics(t)

	registry := store.NewRegistry()
	store.MustRegister(registry, "n", 0, func(n int, a store.Action) (int, error) {
		if a.Type == "fail" {
			return n, errors.New("nope")
		}
		return n + 1, nil
	})
	st, err := store.New(registry, nil, store.WithMiddleware(tel.Middleware()))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}

	ctx := context.Background()
	if _, err := st.Dispatch(ctx, store.Action{Type: "inc"}); err != nil {
		t.Fatalf("Dispatch(inc) error = %v", err)
	}
	if _, err := st.Dispatch(ctx, store.Action{Type: "fail"}); err == nil {
		t.Fatal("Dispatch(fail) should return an error")
	}

	if got := counterValue(t, tel.Metrics, "statekeep_dispatches_total", map[string]string{"action": "inc", "result": "ok"}); got != 1 {
		t.Errorf("ok dispatches = %v, want 1", got)
	}
	if got := counterValue(t, tel.Metrics, "statekeep_dispatches_total", map[string]string{"action": "fail", "result": "error"}); got != 1 {
		t.Errorf("failed dispatches = %v, want 1", got)
	}
	if got := counterValue(t, tel.Metrics, "statekeep_errors_by_class_total", map[string]string{"class": "dispatch"}); got != 1 {
		t.Errorf("dispatch errors = %v, want 1", got)
	}
}

func TestStartOperationWithoutTelemetry(t *testing.T) {
	ic := StartOperation(context.Background(), "noop")
	if ic.Span != nil {
		t.Error("expected no span without telemetry in context")
	}
	if ic.Logger == nil {
		t.Error("expected fallback logger")
	}
	ic.End(nil)
}

func TestStartOperationLogsTraceIDs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "none"
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		t.Fatalf("NewTracer() error = %v", err)
	}
	defer tracer.Shutdown(context.Background())

	var buf bytes.Buffer
	tel := &Telemetry{
		Logger:  &Logger{zlog: zerolog.New(&buf)},
		Tracer:  tracer,
		Metrics: &Metrics{config: cfg.Metrics},
		Config:  cfg,
	}

	ic := StartOperation(tel.WithContext(context.Background()), "cli.dispatch")
	ic.Logger.Info("working")
	ic.End(nil)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("invalid log line %q: %v", buf.String(), err)
	}
	if line["operation"] != "cli.dispatch" {
		t.Errorf("operation = %v, want cli.dispatch", line["operation"])
	}
	if line["trace_id"] != TraceID(ic.Ctx) || line["trace_id"] == "" {
		t.Errorf("trace_id = %v, want %s", line["trace_id"], TraceID(ic.Ctx))
	}
	if line["span_id"] != SpanID(ic.Ctx) {
		t.Errorf("span_id = %v, want %s", line["span_id"], SpanID(ic.Ctx))
	}
}

func TestConfigForProfile(t *testing.T) {
	tests := []struct {
		profile string
		env     string
		wantErr bool
	}{
		{profile: "", env: DefaultConfig().Environment},
		{profile: "development", env: "development"},
		{profile: "prod", env: "production"},
		{profile: "staging", wantErr: true},
	}

	for _, tt := range tests {
		cfg, err := ConfigForProfile(tt.profile)
		if (err != nil) != tt.wantErr {
			t.Errorf("ConfigForProfile(%q) error = %v, wantErr %v", tt.profile, err, tt.wantErr)
			continue
		}
		if tt.wantErr {
			continue
		}
		if cfg.Environment != tt.env {
			t.Errorf("ConfigForProfile(%q).Environment = %q, want %q", tt.profile, cfg.Environment, tt.env)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("ConfigForProfile(%q) is invalid: %v", tt.profile, err)
		}
	}
}

package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/statekeep/statekeep/pkg/persist"
	"github.com/statekeep/statekeep/pkg/store"
	"github.com/statekeep/statekeep/pkg/stores"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.Storage.Driver != stores.DriverMemory {
		t.Errorf("expected memory driver, got %s", cfg.Storage.Driver)
	}
	if cfg.Persist.KeyPrefix != persist.DefaultKeyPrefix {
		t.Errorf("expected default key prefix, got %q", cfg.Persist.KeyPrefix)
	}
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	if err != nil {
		t.Fatalf("empty config should parse: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("empty config should equal Default (-want +got):\n%s", diff)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "statekeep.yaml", `
storage:
  driver: sqlite
  path: data/state.db
persist:
  key_prefix: "app:"
  debounce: 50ms
  rehydrate_timeout: 2s
  strict: true
telemetry:
  logging:
    level: debug
policy:
  paths: [policies, /etc/statekeep/extra.rego]
  watch: true
  overrides:
    builtin-action-shape: false
sync:
  origin: desktop-1
reducers:
  script: reducers.star
seed:
  path: seed.yaml
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Storage.Driver != stores.DriverSQLite || cfg.Storage.Path != filepath.Join(dir, "data/state.db") {
		t.Errorf("unexpected storage: %+v", cfg.Storage)
	}
	wantPersist := persist.Options{
		KeyPrefix:        "app:",
		Debounce:         50 * time.Millisecond,
		RehydrateTimeout: 2 * time.Second,
		Strict:           true,
	}
	if diff := cmp.Diff(wantPersist, cfg.PersistOptions()); diff != "" {
		t.Errorf("persist options mismatch (-want +got):\n%s", diff)
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("expected debug level, got %q", cfg.Telemetry.Logging.Level)
	}
	if cfg.Telemetry.Logging.Format != Default().Telemetry.Logging.Format {
		t.Error("unset telemetry fields should keep their defaults")
	}
	wantPaths := []string{filepath.Join(dir, "policies"), "/etc/statekeep/extra.rego"}
	if diff := cmp.Diff(wantPaths, cfg.Policy.Paths); diff != "" {
		t.Errorf("policy paths mismatch (-want +got):\n%s", diff)
	}
	if !cfg.Policy.Enabled || !cfg.Policy.Watch {
		t.Errorf("unexpected policy section: %+v", cfg.Policy)
	}
	if diff := cmp.Diff(map[string]bool{"builtin-action-shape": false}, cfg.Policy.Overrides); diff != "" {
		t.Errorf("policy overrides mismatch (-want +got):\n%s", diff)
	}
	if cfg.Sync.Origin != "desktop-1" {
		t.Errorf("expected origin desktop-1, got %q", cfg.Sync.Origin)
	}
	if cfg.Reducers.Script != filepath.Join(dir, "reducers.star") {
		t.Errorf("unexpected script path %q", cfg.Reducers.Script)
	}
	if cfg.Seed.Path != filepath.Join(dir, "seed.yaml") {
		t.Errorf("unexpected seed path %q", cfg.Seed.Path)
	}
}

func TestLoadKeepsInMemorySQLite(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "statekeep.yaml", "storage:\n  driver: sqlite\n  path: \":memory:\"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Storage.Path != ":memory:" {
		t.Errorf("expected :memory: to be kept, got %q", cfg.Storage.Path)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{name: "unknown driver", yaml: "storage:\n  driver: redis\n", wantErr: "oneof"},
		{name: "sqlite without path", yaml: "storage:\n  driver: sqlite\n", wantErr: "required_unless"},
		{name: "empty prefix", yaml: "persist:\n  key_prefix: \"\"\n", wantErr: "required"},
		{name: "zero rehydrate timeout", yaml: "persist:\n  rehydrate_timeout: 0s\n", wantErr: "gt"},
		{name: "negative debounce", yaml: "persist:\n  debounce: -1s\n", wantErr: "gte"},
		{name: "unknown field", yaml: "storage:\n  drvier: memory\n", wantErr: "not found"},
		{name: "schema without seed", yaml: "seed:\n  schema: seed.cue\n", wantErr: "excluded_without"},
		{name: "bad log level", yaml: "telemetry:\n  logging:\n    level: loud\n", wantErr: "telemetry"},
		{name: "bad yaml", yaml: "storage: [", wantErr: "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSeedLoader(t *testing.T) {
	dir := t.TempDir()
	want := store.State{"currentComponent": "api-gateway", "currentTab": "logs"}

	files := map[string]string{
		"seed.json": `{"currentComponent": "api-gateway", "currentTab": "logs"}`,
		"seed.yaml": "currentComponent: api-gateway\ncurrentTab: logs\n",
		"seed.cue":  "currentComponent: \"api-gateway\"\ncurrentTab: \"lo\" + \"gs\"\n",
	}

	loader := NewSeedLoader()
	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, dir, name, content)
			got, err := loader.Load(context.Background(), path)
			if err != nil {
				t.Fatalf("failed to load seed: %v", err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("seed mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSeedValidation(t *testing.T) {
	tests := []struct {
		name    string
		seed    map[string]any
		wantErr bool
	}{
		{name: "empty", seed: nil},
		{name: "valid", seed: map[string]any{"currentComponent": "db-1", "currentTab": "overview"}},
		{name: "empty component", seed: map[string]any{"currentComponent": ""}},
		{name: "extra slice", seed: map[string]any{"history": []any{"a"}}},
		{name: "tab not a string", seed: map[string]any{"currentTab": 3}, wantErr: true},
		{name: "tab with spaces", seed: map[string]any{"currentTab": "my tab"}, wantErr: true},
		{name: "upper-case component", seed: map[string]any{"currentComponent": "API"}, wantErr: true},
		{name: "multi-line query", seed: map[string]any{"temporarySearchQuery": "a\nb"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSeed(context.Background(), tt.seed)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSeed() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSeedLoaderCustomSchema(t *testing.T) {
	dir := t.TempDir()
	schema := writeFile(t, dir, "seed.cue", "#Seed: {\n\tcurrentTab: \"overview\" | \"logs\"\n}\n")
	seed := writeFile(t, dir, "seed.json", `{"currentTab": "settings"}`)

	loader := NewSeedLoader()
	if err := loader.UseSchemaFile(schema); err != nil {
		t.Fatalf("failed to use schema: %v", err)
	}
	if _, err := loader.Load(context.Background(), seed); err == nil {
		t.Error("expected custom schema to reject the seed")
	}

	if err := loader.Schemas().RegisterSchema("seed", "x: 1"); err == nil {
		t.Error("expected error for a schema without #Seed")
	}
}

func TestSeedLoaderErrors(t *testing.T) {
	dir := t.TempDir()
	loader := NewSeedLoader()

	if _, err := loader.Load(context.Background(), writeFile(t, dir, "seed.toml", "x = 1")); err == nil {
		t.Error("expected error for unsupported extension")
	}
	if _, err := loader.Load(context.Background(), writeFile(t, dir, "bad.json", "{")); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if _, err := loader.Load(context.Background(), writeFile(t, dir, "bad.cue", "x: int")); err == nil {
		t.Error("expected error for non-concrete CUE")
	}
}

func TestSchemaRegistryListSchemas(t *testing.T) {
	sr := NewSchemaRegistry()
	if err := sr.RegisterSchema("layout", "#Layout: {columns: int}"); err != nil {
		t.Fatalf("failed to register schema: %v", err)
	}
	if diff := cmp.Diff([]string{"layout", "seed"}, sr.ListSchemas()); diff != "" {
		t.Errorf("schemas mismatch (-want +got):\n%s", diff)
	}
	if err := sr.ValidateAgainstSchema(context.Background(), "layout", map[string]any{"columns": "two"}); err == nil {
		t.Error("expected validation error")
	}
	if err := sr.ValidateAgainstSchema(context.Background(), "missing", nil); err == nil {
		t.Error("expected error for unknown schema")
	}
}

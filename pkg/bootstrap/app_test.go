package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/statekeep/statekeep/pkg/config"
	"github.com/statekeep/statekeep/pkg/reducers"
	"github.com/statekeep/statekeep/pkg/store"
)

const denyHiddenTab = `package app.tabs

import rego.v1

deny contains msg if {
	input.action.type == "navigation/SELECT_TAB"
	input.action.payload == "hidden"
	msg := "tab hidden is not available"
}
`

const counterScript = `
def visits(state, action):
    if action.type == "navigation/SELECT_TAB":
        return state + 1
    return state

slices = {"visits": visits}
initial = {"visits": 0}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "policies/tabs.rego", denyHiddenTab)
	writeFile(t, dir, "reducers.star", counterScript)
	writeFile(t, dir, "seed.yaml", "currentComponent: api-gateway\n")
	path := writeFile(t, dir, "statekeep.yaml", `
storage:
  driver: sqlite
  path: state.db
persist:
  debounce: 5ms
policy:
  paths: [policies]
sync:
  origin: desktop
reducers:
  script: reducers.star
seed:
  path: seed.yaml
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	app, err := NewApp(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	t.Cleanup(func() {
		if err := app.Close(); err != nil {
			t.Errorf("close failed: %v", err)
		}
	})
	return app
}

func bootApp(t *testing.T, app *App) (*Handle, *store.Store) {
	t.Helper()
	ready := make(chan *store.Store, 1)
	h, err := app.Bootstrap(context.Background(), func(err error, s *store.Store) {
		if err != nil {
			t.Errorf("unexpected callback error: %v", err)
		}
		ready <- s
	})
	if err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	select {
	case s := <-ready:
		<-h.Done()
		return h, s
	case <-time.After(5 * time.Second):
		t.Fatal("callback never fired")
		return nil, nil
	}
}

func TestAppBootstrap(t *testing.T) {
	app := newTestApp(t)
	h, s := bootApp(t, app)

	state := s.GetState()
	if state[reducers.CurrentComponent] != "api-gateway" {
		t.Errorf("expected seeded component, got %v", state[reducers.CurrentComponent])
	}
	if _, ok := state["visits"]; !ok {
		t.Error("expected scripted slice to be registered")
	}
	if h.Sync.Origin() != "desktop" {
		t.Errorf("expected origin desktop, got %q", h.Sync.Origin())
	}

	ctx := context.Background()
	if _, err := s.Dispatch(ctx, store.Action{Type: reducers.SelectTab, Payload: "logs"}); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if got := s.GetState()["visits"]; got != int64(1) {
		t.Errorf("expected visits=1, got %v (%T)", got, got)
	}

	_, err := s.Dispatch(ctx, store.Action{Type: reducers.SelectTab, Payload: "hidden"})
	if !store.IsPolicyDenied(err) {
		t.Fatalf("expected policy denial, got %v", err)
	}
	if !strings.Contains(err.Error(), "tab hidden is not available") {
		t.Errorf("expected denial message, got %v", err)
	}
	if got := s.GetState()[reducers.CurrentTab]; got != "logs" {
		t.Errorf("denied action must not change state, got %v", got)
	}
}

func TestAppStoresShareHub(t *testing.T) {
	app := newTestApp(t)
	first, a := bootApp(t, app)
	second, b := bootApp(t, app)

	if first.Sync.Origin() == second.Sync.Origin() {
		t.Fatalf("stores must have distinct origins, both %q", first.Sync.Origin())
	}

	if _, err := a.Dispatch(context.Background(), store.Action{Type: reducers.SelectComponent, Payload: "cache"}); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for b.GetState()[reducers.CurrentComponent] != "cache" {
		if time.Now().After(deadline) {
			t.Fatal("action never reached the second store")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewAppRejectsShadowingScript(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Policy.Enabled = false
	cfg.Reducers.Script = writeFile(t, dir, "reducers.star", `
def tab(state, action):
    return state

slices = {"currentTab": tab}
`)

	if _, err := NewApp(context.Background(), cfg, nil); err == nil {
		t.Error("expected error for a script that redefines an application slice")
	}
}

func TestNewAppDefaults(t *testing.T) {
	app, err := NewApp(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	defer app.Close()

	if app.Engine == nil {
		t.Error("expected policy engine with builtins")
	}
	r, err := app.Registry()
	if err != nil {
		t.Fatalf("registry failed: %v", err)
	}
	for _, name := range Whitelist() {
		if !r.Has(name) {
			t.Errorf("registry is missing whitelisted slice %s", name)
		}
	}
}

func TestPolicyOverrides(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Policy.Paths = []string{writeFile(t, dir, "policies/tabs.rego", denyHiddenTab)}
	cfg.Policy.Overrides = map[string]bool{"tabs": false}

	app, err := NewApp(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	defer app.Close()

	p, err := app.Engine.GetPolicy("tabs")
	if err != nil {
		t.Fatalf("GetPolicy(tabs) error = %v", err)
	}
	if p.Enabled {
		t.Error("override should have disabled tabs")
	}

	_, s := bootApp(t, app)
	if _, err := s.Dispatch(context.Background(), store.Action{Type: reducers.SelectTab, Payload: "hidden"}); err != nil {
		t.Errorf("disabled policy must not deny, got %v", err)
	}
}

func TestPolicyOverrideUnknownName(t *testing.T) {
	cfg := config.Default()
	cfg.Policy.Overrides = map[string]bool{"no-such-policy": true}

	_, err := NewApp(context.Background(), cfg, nil)
	if err == nil {
		t.Fatal("expected error for an override naming no policy")
	}
	if !strings.Contains(err.Error(), "no-such-policy") {
		t.Errorf("error should name the policy, got %v", err)
	}
}

func TestAppHealthCheck(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	if err := app.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck() on open sqlite = %v", err)
	}
	if err := app.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := app.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() after close should fail")
	}
}

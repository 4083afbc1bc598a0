package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/statekeep/statekeep/pkg/store"
)

func newGuardedStore(t *testing.T, policies ...Policy) *store.Store {
	t.Helper()

	r := store.NewRegistry()
	store.MustRegister(r, "currentTab", "overview", func(tab string, a store.Action) (string, error) {
		if a.Type == "navigation/SELECT_TAB" {
			return a.Payload.(string), nil
		}
		return tab, nil
	})

	guard := NewGuard(newTestEngine(t, policies...), zerolog.Nop())
	s, err := store.New(r, nil,
		store.WithMiddleware(guard),
		store.WithEnhancers(store.AutoRehydrate(zerolog.Nop())),
	)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return s
}

func TestGuardDeniesAction(t *testing.T) {
	s := newGuardedStore(t, Policy{Name: "tabs", Rego: tabPolicy, Enabled: true})
	notified := 0
	s.Subscribe(func(store.State) { notified++ })

	_, err := s.Dispatch(context.Background(), store.Action{Type: "navigation/SELECT_TAB", Payload: "admin"})
	if !store.IsPolicyDenied(err) {
		t.Fatalf("Expected policy error, got %v", err)
	}

	var denial *Denial
	if !errors.As(err, &denial) || len(denial.Violations) != 1 {
		t.Fatalf("Expected wrapped denial, got %v", err)
	}
	var se *store.StoreError
	if !errors.As(err, &se) || se.Action != "navigation/SELECT_TAB" || se.Code != store.ErrCodeDenied {
		t.Errorf("Unexpected store error: %+v", se)
	}
	if got := s.GetState()["currentTab"]; got != "overview" {
		t.Errorf("Denied action must not change state, got %v", got)
	}
	if notified != 0 {
		t.Errorf("Denied action must not notify listeners, got %d", notified)
	}
}

func TestGuardAllowsAction(t *testing.T) {
	s := newGuardedStore(t, Policy{Name: "tabs", Rego: tabPolicy, Enabled: true})

	if _, err := s.Dispatch(context.Background(), store.Action{Type: "navigation/SELECT_TAB", Payload: "logs"}); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if got := s.GetState()["currentTab"]; got != "logs" {
		t.Errorf("Expected currentTab=logs, got %v", got)
	}
}

func TestGuardSeesBoundState(t *testing.T) {
	const sameTab = `package test.sametab

import rego.v1

deny contains "tab unchanged" if {
	input.action.type == "navigation/SELECT_TAB"
	input.state.currentTab == input.action.payload
}
`
	s := newGuardedStore(t, Policy{Name: "same-tab", Rego: sameTab, Enabled: true})

	_, err := s.Dispatch(context.Background(), store.Action{Type: "navigation/SELECT_TAB", Payload: "overview"})
	if !store.IsPolicyDenied(err) {
		t.Errorf("Expected denial when selecting the current tab, got %v", err)
	}
	if _, err := s.Dispatch(context.Background(), store.Action{Type: "navigation/SELECT_TAB", Payload: "logs"}); err != nil {
		t.Errorf("Dispatch failed: %v", err)
	}
}

func TestGuardLifecycleActions(t *testing.T) {
	s := newGuardedStore(t)
	ctx := context.Background()

	local := store.Action{
		Type:    store.ActionRehydrate,
		Payload: store.Rehydration{Slices: map[string]any{"currentTab": "settings"}},
	}
	if _, err := s.Dispatch(ctx, local); err != nil {
		t.Fatalf("Local rehydrate should bypass the guard: %v", err)
	}
	if got := s.GetState()["currentTab"]; got != "settings" {
		t.Errorf("Expected rehydrated tab, got %v", got)
	}

	remote := store.Action{
		Type:    store.ActionRehydrate,
		Payload: store.Rehydration{Slices: map[string]any{"currentTab": "logs"}},
		Meta:    store.Meta{Origin: "peer", Remote: true},
	}
	if _, err := s.Dispatch(ctx, remote); !store.IsPolicyDenied(err) {
		t.Fatalf("Remote rehydrate should be denied, got %v", err)
	}
	if got := s.GetState()["currentTab"]; got != "settings" {
		t.Errorf("Remote rehydrate must not change state, got %v", got)
	}
}

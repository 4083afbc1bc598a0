package policy

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/statekeep/statekeep/pkg/store"
)

const tabPolicy = `package test.tabs

import rego.v1

allowed_tabs := {"overview", "logs", "settings"}

deny contains msg if {
	input.action.type == "navigation/SELECT_TAB"
	not allowed_tabs[input.action.payload]
	msg := sprintf("unknown tab %v", [input.action.payload])
}
`

const componentWarning = `package test.component

import rego.v1

deny contains violation if {
	input.action.type == "navigation/SELECT_COMPONENT"
	input.state.currentComponent == input.action.payload
	violation := {"message": "component already selected", "severity": "warning"}
}
`

func newTestEngine(t *testing.T, policies ...Policy) *Engine {
	t.Helper()

	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	if len(policies) > 0 {
		if err := eng.Load(context.Background(), policies); err != nil {
			t.Fatalf("Failed to load policies: %v", err)
		}
	}
	return eng
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	expectedPolicies := []string{
		"builtin-action-shape",
		"builtin-remote-lifecycle",
	}
	if len(policies) != len(expectedPolicies) {
		t.Fatalf("Expected %d built-in policies, got %d", len(expectedPolicies), len(policies))
	}
	for i, expected := range expectedPolicies {
		if policies[i].Name != expected {
			t.Errorf("Expected policy %d to be %s, got %s", i, expected, policies[i].Name)
		}
	}
}

func TestEvaluate_CustomPolicy(t *testing.T) {
	eng := newTestEngine(t, Policy{Name: "tabs", Rego: tabPolicy, Enabled: true})

	tests := []struct {
		name          string
		action        store.Action
		expectAllowed bool
	}{
		{
			name:          "known tab",
			action:        store.Action{Type: "navigation/SELECT_TAB", Payload: "logs"},
			expectAllowed: true,
		},
		{
			name:          "unknown tab",
			action:        store.Action{Type: "navigation/SELECT_TAB", Payload: "admin"},
			expectAllowed: false,
		},
		{
			name:          "unrelated action",
			action:        store.Action{Type: "search/SET_QUERY", Payload: "admin"},
			expectAllowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := eng.Evaluate(context.Background(), tt.action, nil)
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}
			if decision.Allowed != tt.expectAllowed {
				t.Errorf("Expected allowed=%v, got %v (violations: %+v)", tt.expectAllowed, decision.Allowed, decision.Violations)
			}
			if !tt.expectAllowed {
				if len(decision.Violations) != 1 {
					t.Fatalf("Expected 1 violation, got %d", len(decision.Violations))
				}
				v := decision.Violations[0]
				if v.Policy != "tabs" || v.Severity != SeverityError {
					t.Errorf("Unexpected violation: %+v", v)
				}
				if !strings.Contains(v.Message, "admin") {
					t.Errorf("Expected message to name the tab, got %q", v.Message)
				}
			}
		})
	}
}

func TestEvaluate_WarningSeesState(t *testing.T) {
	eng := newTestEngine(t, Policy{Name: "component", Rego: componentWarning, Enabled: true})

	action := store.Action{Type: "navigation/SELECT_COMPONENT", Payload: "editor"}
	decision, err := eng.Evaluate(context.Background(), action, store.State{"currentComponent": "editor"})
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if !decision.Allowed {
		t.Errorf("Warnings must not block: %+v", decision.Violations)
	}
	if len(decision.Warnings) != 1 || decision.Warnings[0].Message != "component already selected" {
		t.Errorf("Expected one warning, got %+v", decision.Warnings)
	}

	decision, err = eng.Evaluate(context.Background(), action, store.State{"currentComponent": "viewer"})
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if len(decision.Warnings) != 0 {
		t.Errorf("Expected no warnings, got %+v", decision.Warnings)
	}
}

func TestBuiltinPolicies(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name          string
		action        store.Action
		expectAllowed bool
		expectWarning bool
	}{
		{
			name:          "local rehydrate",
			action:        store.Action{Type: store.ActionRehydrate},
			expectAllowed: true,
		},
		{
			name: "remote rehydrate",
			action: store.Action{
				Type: store.ActionRehydrate,
				Meta: store.Meta{Origin: "peer", Remote: true},
			},
			expectAllowed: false,
		},
		{
			name: "remote navigation",
			action: store.Action{
				Type:    "navigation/SELECT_TAB",
				Payload: "logs",
				Meta:    store.Meta{Origin: "peer", Remote: true},
			},
			expectAllowed: true,
		},
		{
			name:          "type without namespace",
			action:        store.Action{Type: "RESET"},
			expectAllowed: true,
			expectWarning: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := eng.Evaluate(context.Background(), tt.action, nil)
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}
			if decision.Allowed != tt.expectAllowed {
				t.Errorf("Expected allowed=%v, got %v", tt.expectAllowed, decision.Allowed)
			}
			if got := len(decision.Warnings) > 0; got != tt.expectWarning {
				t.Errorf("Expected warning=%v, got %+v", tt.expectWarning, decision.Warnings)
			}
			if !tt.expectAllowed && decision.Violations[0].Severity != SeverityCritical {
				t.Errorf("Expected critical violation, got %s", decision.Violations[0].Severity)
			}
		})
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t, Policy{Name: "tabs", Rego: tabPolicy, Enabled: true})
	action := store.Action{Type: "navigation/SELECT_TAB", Payload: "admin"}

	if err := eng.DisablePolicy("tabs"); err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}
	decision, err := eng.Evaluate(context.Background(), action, nil)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if !decision.Allowed {
		t.Error("Disabled policy should not block")
	}
	for _, name := range decision.EvaluatedPolicies {
		if name == "tabs" {
			t.Error("Disabled policy should not be evaluated")
		}
	}

	if err := eng.EnablePolicy("tabs"); err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}
	decision, err = eng.Evaluate(context.Background(), action, nil)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if decision.Allowed {
		t.Error("Enabled policy should block")
	}

	if err := eng.EnablePolicy("missing"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}

func TestLoadIsAtomic(t *testing.T) {
	eng := newTestEngine(t, Policy{Name: "tabs", Rego: tabPolicy, Enabled: true})

	err := eng.Load(context.Background(), []Policy{
		{Name: "component", Rego: componentWarning, Enabled: true},
		{Name: "broken", Rego: "package broken\n\ndeny contains msg if {", Enabled: true},
	})
	if err == nil {
		t.Fatal("Expected compile error")
	}

	if _, err := eng.GetPolicy("tabs"); err != nil {
		t.Errorf("Previous policy set should survive a failed load: %v", err)
	}
	if _, err := eng.GetPolicy("component"); err == nil {
		t.Error("Partially loaded policy should not be visible")
	}
}

func TestLoadRejectsDuplicateNames(t *testing.T) {
	eng := newTestEngine(t)

	err := eng.Load(context.Background(), []Policy{
		{Name: "tabs", Rego: tabPolicy, Enabled: true},
		{Name: "tabs", Rego: tabPolicy, Enabled: true},
	})
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("Expected duplicate name error, got %v", err)
	}

	err = eng.Load(context.Background(), []Policy{
		{Name: "builtin-action-shape", Rego: tabPolicy, Enabled: true},
	})
	if err == nil {
		t.Error("Expected error when shadowing a built-in policy")
	}
}

func TestLoadReplacesCustomPolicies(t *testing.T) {
	eng := newTestEngine(t, Policy{Name: "tabs", Rego: tabPolicy, Enabled: true})

	if err := eng.Load(context.Background(), nil); err != nil {
		t.Fatalf("Failed to reload: %v", err)
	}
	if _, err := eng.GetPolicy("tabs"); err == nil {
		t.Error("Custom policy should be removed by reload")
	}
	if len(eng.ListPolicies()) != len(GetBuiltinPolicies()) {
		t.Errorf("Expected only built-in policies, got %d", len(eng.ListPolicies()))
	}
}

func TestGetPolicyReturnsCopy(t *testing.T) {
	eng := newTestEngine(t, Policy{Name: "tabs", Rego: tabPolicy, Enabled: true})

	p, err := eng.GetPolicy("tabs")
	if err != nil {
		t.Fatalf("Failed to get policy: %v", err)
	}
	p.Enabled = false

	again, _ := eng.GetPolicy("tabs")
	if !again.Enabled {
		t.Error("Mutating a returned policy should not change the engine")
	}
	if again.Severity != SeverityError {
		t.Errorf("Expected default severity error, got %s", again.Severity)
	}
}

func TestNewInput(t *testing.T) {
	action := store.Action{
		Type:    "navigation/SELECT_TAB",
		Payload: "logs",
		Meta:    store.Meta{ID: "a1", Seq: 7, Origin: "me"},
	}
	input := NewInput(action, store.State{"currentTab": "overview"})

	if input.Action.Meta["seq"] != uint64(7) || input.Action.Meta["origin"] != "me" {
		t.Errorf("Unexpected meta: %+v", input.Action.Meta)
	}
	if _, ok := input.Action.Meta["time"]; ok {
		t.Error("Zero time should be omitted")
	}
	if input.State["currentTab"] != "overview" {
		t.Errorf("Unexpected state: %+v", input.State)
	}
}

func TestDenialError(t *testing.T) {
	d := &Denial{Violations: []Violation{
		{Policy: "a", Message: "first"},
		{Policy: "b", Message: "second"},
	}}
	if got, want := d.Error(), "a: first; b: second"; got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

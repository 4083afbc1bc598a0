package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
	"github.com/statekeep/statekeep/pkg/store"
)

// Engine compiles Rego policies and evaluates actions against them.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	builtins []Policy
	logger   zerolog.Logger
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		builtins: GetBuiltinPolicies(),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	if err := e.Load(context.Background(), nil); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// Load replaces every non built-in policy. Either all policies compile and are
// swapped in, or the engine is left unchanged.
func (e *Engine) Load(ctx context.Context, policies []Policy) error {
	compiled := make(map[string]*compiledPolicy, len(e.builtins)+len(policies))
	all := append(append([]Policy(nil), e.builtins...), policies...)
	for i := range all {
		p := all[i]
		if _, dup := compiled[p.Name]; dup {
			return fmt.Errorf("duplicate policy name: %s", p.Name)
		}
		cp, err := compile(ctx, &p)
		if err != nil {
			e.logger.Error().Err(err).Str("policy", p.Name).Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
		compiled[p.Name] = cp
	}

	e.mu.Lock()
	e.policies = compiled
	e.mu.Unlock()

	e.logger.Info().
		Int("count", len(policies)).
		Int("builtin", len(e.builtins)).
		Msg("Policies loaded")
	return nil
}

// compile prepares the deny query of a policy's package.
func compile(ctx context.Context, p *Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(p.Name, p.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	if module == nil {
		return nil, fmt.Errorf("policy is empty")
	}
	if p.Severity == "" {
		p.Severity = SeverityError
	}

	query, err := rego.New(
		rego.Module(p.Name, p.Rego),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	return &compiledPolicy{policy: p, query: query, compiled: time.Now()}, nil
}

// Evaluate runs every enabled policy against action and state.
func (e *Engine) Evaluate(ctx context.Context, action store.Action, state store.State) (*Decision, error) {
	start := time.Now()
	input := NewInput(action, state)

	e.mu.RLock()
	defer e.mu.RUnlock()

	decision := &Decision{Allowed: true}
	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		decision.EvaluatedPolicies = append(decision.EvaluatedPolicies, name)

		results, err := cp.query.Eval(ctx, rego.EvalInput(input))
		if err != nil {
			// Evaluation failures are reported, not enforced.
			e.logger.Error().Err(err).
				Str("policy", name).
				Str("action", action.Type).
				Msg("Policy evaluation failed")
			decision.Warnings = append(decision.Warnings, Violation{
				Policy:   name,
				Action:   action.Type,
				Message:  fmt.Sprintf("evaluation failed: %v", err),
				Severity: SeverityWarning,
			})
			continue
		}

		for _, result := range results {
			if len(result.Expressions) == 0 {
				continue
			}
			denySet, ok := result.Expressions[0].Value.([]interface{})
			if !ok {
				continue
			}
			for _, d := range denySet {
				v := createViolation(cp.policy, action.Type, d)
				if v.Severity.Blocks() {
					decision.Allowed = false
					decision.Violations = append(decision.Violations, v)
				} else {
					decision.Warnings = append(decision.Warnings, v)
				}
			}
		}
	}
	decision.Duration = time.Since(start)

	e.logger.Debug().
		Str("action", action.Type).
		Bool("allowed", decision.Allowed).
		Int("violations", len(decision.Violations)).
		Dur("duration", decision.Duration).
		Msg("Action policy evaluation completed")

	return decision, nil
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// createViolation creates a Violation from one deny set entry.
func createViolation(p *Policy, actionType string, result interface{}) Violation {
	v := Violation{
		Policy:   p.Name,
		Action:   actionType,
		Severity: p.Severity,
	}

	switch r := result.(type) {
	case string:
		v.Message = r
	case map[string]interface{}:
		if msg, ok := r["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := r["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
	default:
		v.Message = fmt.Sprintf("%v", result)
	}

	return v
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}
	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}

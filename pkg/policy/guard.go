package policy

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/statekeep/statekeep/pkg/store"
)

// Guard is store middleware that rejects actions denied by the policy engine
// before they reach the reducers.
//
// Local lifecycle actions (store/ and persist/ types) skip evaluation.
// The same types arriving from a peer are evaluated like any other action.
type Guard struct {
	engine *Engine
	logger zerolog.Logger
	api    atomic.Pointer[apiHolder]
}

type apiHolder struct {
	api store.API
}

// NewGuard wraps engine as store middleware.
func NewGuard(engine *Engine, logger zerolog.Logger) *Guard {
	return &Guard{
		engine: engine,
		logger: logger.With().Str("component", "policy-guard").Logger(),
	}
}

// Bind implements store.Binder so policies can see the current state.
func (g *Guard) Bind(api store.API) {
	g.api.Store(&apiHolder{api: api})
}

// Engine returns the wrapped engine.
func (g *Guard) Engine() *Engine {
	return g.engine
}

// Intercept implements store.Middleware.
func (g *Guard) Intercept(ctx context.Context, action store.Action, next store.Next) (store.Action, error) {
	if isLifecycle(action.Type) && !action.Meta.Remote {
		return next(ctx, action)
	}

	var state store.State
	if h := g.api.Load(); h != nil {
		state = h.api.GetState()
	}

	decision, err := g.engine.Evaluate(ctx, action, state)
	if err != nil {
		return action, store.NewPolicyError("policy evaluation failed", err).WithAction(action.Type)
	}
	for _, w := range decision.Warnings {
		g.logger.Warn().
			Str("policy", w.Policy).
			Str("action", action.Type).
			Msg(w.Message)
	}
	if !decision.Allowed {
		denial := &Denial{Violations: decision.Violations}
		g.logger.Info().
			Str("action", action.Type).
			Str("origin", action.Meta.Origin).
			Int("violations", len(decision.Violations)).
			Msg("Action denied by policy")
		return action, store.NewPolicyError("action denied", denial).WithAction(action.Type)
	}
	return next(ctx, action)
}

func isLifecycle(actionType string) bool {
	return strings.HasPrefix(actionType, "store/") || strings.HasPrefix(actionType, "persist/")
}

// Package policy provides Open Policy Agent (OPA) checks for dispatched actions.
//
// Policies are Rego modules whose package defines a deny set. Every entry of
// the set is a violation, either a plain message or an object with message
// and severity fields. Violations of severity error or critical reject the
// action, lower severities are logged as warnings.
//
// # Architecture
//
//  1. Engine - Compiles policies and evaluates actions against them
//  2. Guard - Store middleware that rejects denied actions
//  3. Loader - Reads .rego and .json policies and watches them for changes
//  4. Built-in Policies - Rules that protect the store lifecycle
//
// # Input
//
// Policies see the action and the state it would be applied to:
//
//	{
//	  "action": {"type": "navigation/SELECT_TAB", "payload": "logs",
//	             "meta": {"id": "...", "seq": 3, "origin": "...", "remote": false}},
//	  "state":  {"currentComponent": "...", "currentTab": "..."}
//	}
//
// # Usage
//
//	engine, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	guard := policy.NewGuard(engine, logger)
//	s, err := store.New(registry, nil, store.WithMiddleware(guard))
//
// A denied dispatch returns a store.StoreError of class policy wrapping a
// *Denial with the blocking violations.
//
// Loading and watching custom policies:
//
//	loader := policy.NewLoader(logger)
//	policies, err := loader.LoadFromPaths(ctx, []string{"./policies"})
//	if err != nil {
//	    return err
//	}
//	if err := engine.Load(ctx, policies); err != nil {
//	    return err
//	}
//	_ = loader.Watch(ctx, []string{"./policies"}, func(p []policy.Policy) error {
//	    return engine.Load(ctx, p)
//	})
//	defer loader.StopWatching()
//
// # Built-in Policies
//
// builtin-remote-lifecycle (critical): store/ and persist/ actions received
// from another origin are rejected.
//
// builtin-action-shape (warning): action types should have a namespace/NAME form.
package policy

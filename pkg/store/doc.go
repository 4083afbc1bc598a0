// Package store provides the reducer-driven state container used by statekeep.
//
// A Store holds a State snapshot made of named slices. Each slice is owned by a
// reducer registered in a Registry; the only way to change state is to Dispatch
// an Action, which travels through an explicit, ordered middleware pipeline
// before it reaches the root reducer:
//
//	Dispatch -> Middleware[0] -> Middleware[1] -> ... -> root reducer -> listeners
//
// Reducer enhancers wrap the root reducer. AutoRehydrate is the enhancer that
// merges a persisted Rehydration payload into freshly constructed state.
//
// Reducers run under the store lock and listeners run after it is released,
// so middleware and listeners may dispatch follow-up actions.
package store

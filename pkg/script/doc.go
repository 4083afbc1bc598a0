// Package script loads slice reducers written in Starlark.
//
// A reducer script declares its slices in a global dict and may give them
// initial values:
//
//	def count(state, action):
//	    if action.type == "counter/INC":
//	        return state + 1
//	    return state
//
//	slices = {"counter": count}
//	initial = {"counter": 0}
//
// The action is a struct with type, payload and meta fields; meta carries
// id, seq, origin and remote. Slice values cross the boundary as plain
// Starlark values (None, bool, int, float, string, list, dict), so a
// reducer always works on a copy of the current state.
//
// Every call runs on its own thread with a step limit and a wall time
// limit. A reducer that fails or exceeds a limit makes the dispatch fail
// with a dispatch class error and leaves state unchanged.
package script

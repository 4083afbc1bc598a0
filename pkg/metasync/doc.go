// Package metasync stamps actions with origin metadata and keeps several
// stores in step by relaying actions over a Bus.
//
// The Middleware is installed first in a store's pipeline so it observes every
// dispatched action, the rehydrate action included. Actions without an ID get
// a Meta carrying a UUID, the origin, a per-origin sequence number and a
// timestamp. After a local action is reduced successfully it is published on
// the bus; Attach re-dispatches actions from other origins with Meta.Remote
// set, and remote actions are never published again.
//
// Store lifecycle actions (store/INIT and anything under persist/) are
// observed but never published.
package metasync

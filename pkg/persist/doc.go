// Package persist keeps a whitelisted subset of store slices in a Backend.
//
// A Persistor is started once per store. It reads the prior value of every
// whitelisted slice, dispatches a single store.ActionRehydrate carrying the
// decoded values, and from then on writes a slice back whenever it changes.
//
// Writes never run on the dispatching goroutine. Store listeners only record
// which keys changed; one writer goroutine per persistor reads the latest
// value at write time, so per-key writes are serialized and last-writer-wins.
//
// Values are stored inside a small JSON envelope carrying a BLAKE2b-256
// checksum of the payload. A value whose checksum does not match is treated
// as a read failure for that key only.
package persist

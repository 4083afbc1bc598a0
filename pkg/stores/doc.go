// Package stores provides persistence backends for statekeep.
// It includes a SQLite backend with WAL mode and embedded migrations,
// a directory-of-files backend and an in-memory backend, all implementing
// persist.Backend.
package stores

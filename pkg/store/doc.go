// Package store provides the entity store for the retrofit assessment
// core. Reads return snapshots; mutations run inside a transactional scope
// obtained from Store.Update so multi-step changes commit atomically.
//
// The in-memory implementation in this package is the reference store; a
// PostgreSQL-backed implementation with a Redis snapshot cache lives in the
// postgres subpackage.
package store

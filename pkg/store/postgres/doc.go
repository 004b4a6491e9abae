// Package postgres implements the entity store on PostgreSQL with an
// optional Redis snapshot cache.
//
// Entities are stored as JSONB documents alongside the columns the
// query paths index on (owner, organisation, sharing edges). Mutations
// run in serializable transactions; row versions are checked on every
// write so stale snapshots fail with a conflict, matching the
// in-memory reference store. When a cache is attached, single-entity
// reads consult Redis first and every committed transaction
// invalidates the entries it touched.
package postgres

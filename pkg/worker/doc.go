// Package worker runs scheduled background maintenance.
//
// The Janitor sweeps the store on a cron schedule, verifying the
// cross-entity invariants the mutation gateway maintains online: role
// sets stay subsets of the member set, sharing edges point at current
// organisation members, featured images belong to their assessment,
// and library ownership shapes stay exclusive. Findings are logged and
// reported; the sweep never mutates data. It also refreshes the
// entity-count gauges exposed on the metrics endpoint.
package worker

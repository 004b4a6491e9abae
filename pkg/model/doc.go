// Package model defines the shared entity model for the retrofit assessment
// core: principals, organisations, assessments, libraries and images, the
// action vocabulary used by the permission oracle, and the error taxonomy
// shared by the store, oracle and mutation gateway.
//
// Entities returned by the store are snapshots. Mutating a snapshot has no
// effect until it is written back through the mutation gateway.
package model

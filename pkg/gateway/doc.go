// Package gateway is the single entry point for mutations. Every
// operation loads the resource, consults the permission oracle, checks
// its preconditions and applies the change inside one transaction, so
// invariants hold across multi-step mutations. Operations on the same
// resource are serialized; a denial or error never leaves a partial
// write behind.
package gateway

// Package oracle implements the permission oracle: a deterministic,
// side-effect-free predicate engine deciding whether a principal may
// perform an action on a resource.
//
// Rules are explicit expression trees (AND/OR/NOT) over a closed set of
// atomic predicates, evaluated by a single interpreter against an
// environment of entity snapshots loaded once per decision. The oracle
// never blocks and never mutates.
//
// Denials carry a machine-stable reason code. When a principal lacks read
// permission on an assessment or library that exists, every denial on that
// resource is reported as NOT_FOUND rather than NOT_AUTHORIZED so that the
// resource's existence is not disclosed. Organisation endpoints do not
// mask; membership is not itself a secret.
package oracle

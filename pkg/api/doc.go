// Package api exposes the authorization and sharing core over HTTP.
//
// Every endpoint identifies the caller through the Authorization bearer
// token, resolved to a principal by a pluggable authenticator; identity
// management itself is an edge concern. Handlers decode
// the request, call the mutation gateway or the visibility resolver,
// and translate typed errors into status codes:
//
//	not found (and masked denials)  -> 404
//	unauthenticated                 -> 403
//	role and ownership denials      -> 403
//	invariant violations            -> 400
//	malformed targets               -> 400
//	concurrent-modification         -> 409
//
// POST /v1/access/resolve answers a single permission question without
// mutating anything, returning the decision with its reason code.
package api

// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalIDKey contains the authenticated principal id string
	// Set by: api principal middleware
	// Used by: all authorization checks, audit trail
	PrincipalIDKey Key = "principal_id"

	// RequestIDKey contains request ID string (UUID)
	// Set by: HTTP middleware
	// Used by: Logger, audit trail, distributed tracing
	RequestIDKey Key = "request_id"
)

// WithPrincipalID adds the principal id to the context
func WithPrincipalID(ctx context.Context, principalID string) context.Context {
	return context.WithValue(ctx, PrincipalIDKey, principalID)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetPrincipalID retrieves the principal id from context. An empty
// string means the request is unauthenticated.
func GetPrincipalID(ctx context.Context) string {
	if id, ok := ctx.Value(PrincipalIDKey).(string); ok {
		return id
	}
	return ""
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

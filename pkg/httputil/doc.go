// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteSuccess(w, data)
//	httputil.WriteCreated(w, resource)
//	httputil.WriteErrorCode(w, http.StatusForbidden, "NOT_ADMIN", "admin role required")
//
// Every error body has the same shape:
//
//	{"code": "NOT_FOUND", "message": "assessment not found"}
//
// # Request Parsing
//
//	var req createAssessmentRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
//	id, ok := httputil.ParsePathStringOrError(w, r, "id")
//	offset, limit, err := httputil.ParsePage(r, 50, 500)
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(log),
//		httputil.RecoveryMiddleware(log),
//		httputil.MaxBytesMiddleware(1<<20),
//	)
package httputil

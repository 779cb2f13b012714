// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
// Every error body has the shape {"error": "<message>"}. Domain errors are
// translated by WriteAppError:
//
//	role, err := store.GetRole(ctx, id)
//	if err != nil {
//		httputil.WriteAppError(w, err) // 404, 409, 403, 400 or 500
//		return
//	}
//	httputil.WriteSuccess(w, role)
//
// # Request Parsing
//
//	var req CreateRoleRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
//	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.RecoveryMiddleware(logger),
//		httputil.LoggingMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)(router)
package httputil

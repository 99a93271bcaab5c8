// Package httputil provides HTTP utilities for permitd handlers.
//
// # Response Helpers
//
// Every error body has the shape {"error": "..."}; WriteErrorFields adds
// extra keys next to it:
//
//	httputil.WriteSuccess(w, roles)
//	httputil.WriteCreated(w, role)
//	httputil.WriteConflict(w, "role name already exists")
//	httputil.WriteErrorFields(w, http.StatusConflict, msg, map[string]interface{}{"user_count": 3})
//
// # Request Parsing
//
//	var req CreateRoleRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
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

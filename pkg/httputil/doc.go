// Package httputil provides HTTP helpers shared by the API handlers: JSON
// responses, access error mapping, path parsing and the request middleware
// chain.
//
// # Errors
//
// Handlers return access errors unchanged and let WriteAccessError pick the
// status:
//
//	if err := svc.AddWorkspaceMember(ctx, sess, wsID, userID, role); err != nil {
//		httputil.WriteAccessError(w, r, err)
//		return
//	}
//
// Unauthenticated is 401, Forbidden 403, NotFound 404, Conflict 409 and
// Validation 400. Any other error is logged and returned as a bare 500.
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware,
//		httputil.MaxBytesMiddleware(1<<20),
//	)
package httputil

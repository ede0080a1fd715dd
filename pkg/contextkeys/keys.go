// Package contextkeys provides centralized context key definitions
//
// All context keys used across trellis are defined here so that the setter
// and every reader agree on one key value.
//
// USAGE PATTERN:
//
//	ctx = contextkeys.WithSession(ctx, sess)
//	sess, _ := ctx.Value(contextkeys.SessionKey).(*access.Session)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// SessionKey contains *access.Session
	// Set by: middleware.AuthMiddleware (pkg/middleware/auth.go)
	// Required by: every workspace-scoped handler
	SessionKey Key = "session"

	// RequestIDKey contains the request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, audit trail
	RequestIDKey Key = "request_id"

	// UserIDKey contains the authenticated user ID (int64)
	// Set by: middleware.AuthMiddleware
	// Used by: Logger, audit trail
	UserIDKey Key = "user_id"

	// LoggerKey contains *observability.Logger
	LoggerKey Key = "logger"

	// AuditLoggerKey contains audit.Logger
	// Set by: api.Server when wiring handlers
	AuditLoggerKey Key = "audit_logger"
)

// WithSession adds the access session to the context
func WithSession(ctx context.Context, session interface{}) context.Context {
	return context.WithValue(ctx, SessionKey, session)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds the authenticated user ID to the context
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithAuditLogger adds audit logger to the context
func WithAuditLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, AuditLoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves the authenticated user ID from context.
// The second result is false for anonymous requests.
func GetUserID(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(UserIDKey).(int64)
	return userID, ok
}

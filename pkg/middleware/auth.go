package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/platinummonkey/trellis/pkg/access"
	"github.com/platinummonkey/trellis/pkg/auth"
	"github.com/platinummonkey/trellis/pkg/httputil"
	"github.com/platinummonkey/trellis/pkg/observability"
)

// TokenValidator resolves a bearer token to its record.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*auth.APIToken, error)
}

// AuthMiddleware turns a bearer token into an access.Session on the
// request context.
type AuthMiddleware struct {
	tokens    TokenValidator
	evaluator *access.Evaluator
	optional  bool // If true, requests without a header run anonymously
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokens TokenValidator, evaluator *access.Evaluator, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		tokens:    tokens,
		evaluator: evaluator,
		optional:  optional,
	}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Format: "Bearer <token>"
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				ctx := access.WithSession(r.Context(), access.AnonymousSession(m.evaluator))
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		apiToken, err := m.tokens.ValidateToken(r.Context(), parts[1])
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidToken) {
				observability.FromContext(r.Context()).WithError(err).Error("Token validation failed")
			}
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		ctx := access.WithSession(r.Context(), access.NewSession(apiToken.UserID, m.evaluator))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetSession returns the request's session. Requests that bypassed the
// auth middleware get nil.
func GetSession(r *http.Request) *access.Session {
	sess, ok := access.SessionFromContext(r.Context())
	if !ok {
		return nil
	}
	return sess
}

// RequireUser rejects anonymous sessions with 401.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := GetSession(r)
		if sess == nil || !sess.Authenticated() {
			httputil.WriteAccessError(w, r, access.Unauthenticated())
			return
		}
		next.ServeHTTP(w, r)
	})
}

package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/trellis/pkg/access"
	"github.com/platinummonkey/trellis/pkg/auth"
)

type stubTokens map[string]int64

func (s stubTokens) ValidateToken(ctx context.Context, token string) (*auth.APIToken, error) {
	if token == "broken" {
		return nil, errors.New("db down")
	}
	userID, ok := s[token]
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	return &auth.APIToken{UserID: userID}, nil
}

func sessionEcho(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := GetSession(r)
		require.NotNil(t, sess)
		json.NewEncoder(w).Encode(map[string]interface{}{"user_id": sess.UserID(), "authenticated": sess.Authenticated()})
	})
}

func TestAuthMiddleware_Handler(t *testing.T) {
	tokens := stubTokens{"trellis_good": 42}
	evaluator := access.NewEvaluator(nil)

	tests := []struct {
		name     string
		optional bool
		header   string
		status   int
		userID   float64
	}{
		{"missing header required", false, "", http.StatusUnauthorized, 0},
		{"missing header optional is anonymous", true, "", http.StatusOK, 0},
		{"malformed header", true, "Token abc", http.StatusUnauthorized, 0},
		{"unknown token", true, "Bearer nope", http.StatusUnauthorized, 0},
		{"validation failure", false, "Bearer broken", http.StatusUnauthorized, 0},
		{"valid token", false, "Bearer trellis_good", http.StatusOK, 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewAuthMiddleware(tokens, evaluator, tt.optional).Handler(sessionEcho(t))
			req := httptest.NewRequest("GET", "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				var body map[string]interface{}
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.Equal(t, tt.userID, body["user_id"])
				assert.Equal(t, tt.userID != 0, body["authenticated"])
			}
		})
	}
}

func TestRequireUser(t *testing.T) {
	evaluator := access.NewEvaluator(nil)
	handler := NewAuthMiddleware(stubTokens{"t": 1}, evaluator, true).Handler(RequireUser(sessionEcho(t)))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "UNAUTHENTICATED")

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer t")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

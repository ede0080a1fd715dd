package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// TokenPrefix identifies trellis tokens
	TokenPrefix = "trellis_"
	// TokenLength is the number of random bytes (32 bytes = 256 bits)
	TokenLength = 32
)

var (
	// ErrInvalidToken covers unknown, revoked and expired tokens alike.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrTokenNotFound is returned by RevokeToken.
	ErrTokenNotFound = errors.New("token not found")
)

// TokenGenerator generates and validates API tokens
type TokenGenerator struct{}

// NewTokenGenerator creates a new token generator
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// GenerateToken creates a new API token
// Format: trellis_<base64url(32 random bytes)>
func (tg *TokenGenerator) GenerateToken() (token string, tokenHash string, tokenPrefix string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encodedToken := base64.RawURLEncoding.EncodeToString(randomBytes)
	fullToken := TokenPrefix + encodedToken
	return fullToken, tg.HashToken(fullToken), tg.ExtractPrefix(fullToken), nil
}

// HashToken computes the SHA256 hash of a token for lookup
func (tg *TokenGenerator) HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks if a token has the correct format
func (tg *TokenGenerator) ValidateTokenFormat(token string) error {
	if !strings.HasPrefix(token, TokenPrefix) {
		return fmt.Errorf("token must start with %q", TokenPrefix)
	}

	encodedPart := strings.TrimPrefix(token, TokenPrefix)
	if len(encodedPart) == 0 {
		return fmt.Errorf("token is too short")
	}
	if _, err := base64.RawURLEncoding.DecodeString(encodedPart); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}
	return nil
}

// ExtractPrefix returns the displayable head of a token.
func (tg *TokenGenerator) ExtractPrefix(token string) string {
	if !strings.HasPrefix(token, TokenPrefix) {
		return ""
	}
	encodedPart := strings.TrimPrefix(token, TokenPrefix)
	if len(encodedPart) >= 8 {
		return TokenPrefix + encodedPart[:8]
	}
	return token
}

// TokenManager stores and validates API tokens in the api_tokens table.
type TokenManager struct {
	db        *sql.DB
	generator *TokenGenerator
	now       func() time.Time
}

// NewTokenManager creates a new token manager
func NewTokenManager(db *sql.DB) *TokenManager {
	return &TokenManager{
		db:        db,
		generator: NewTokenGenerator(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateToken creates a token for userID. The plaintext is returned once
// and never stored.
func (tm *TokenManager) CreateToken(ctx context.Context, userID int64, name string, expiresAt *time.Time) (*APIToken, string, error) {
	token, tokenHash, tokenPrefix, err := tm.generator.GenerateToken()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}

	apiToken := &APIToken{
		UserID:      userID,
		TokenHash:   tokenHash,
		TokenPrefix: tokenPrefix,
		Name:        name,
		ExpiresAt:   expiresAt,
		CreatedAt:   tm.now(),
	}
	err = tm.db.QueryRowContext(ctx, `
		INSERT INTO api_tokens (user_id, token_hash, token_prefix, name, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		apiToken.UserID, apiToken.TokenHash, apiToken.TokenPrefix, apiToken.Name, apiToken.ExpiresAt, apiToken.CreatedAt,
	).Scan(&apiToken.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to store token: %w", err)
	}

	return apiToken, token, nil
}

// ValidateToken resolves a presented token to its record and stamps
// last_used_at. Unknown, revoked and expired tokens all return
// ErrInvalidToken.
func (tm *TokenManager) ValidateToken(ctx context.Context, token string) (*APIToken, error) {
	if err := tm.generator.ValidateTokenFormat(token); err != nil {
		return nil, ErrInvalidToken
	}

	t, err := tm.scanToken(tm.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM api_tokens WHERE token_hash = $1`,
		tm.generator.HashToken(token),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}

	now := tm.now()
	if !t.Active(now) {
		return nil, ErrInvalidToken
	}

	if _, err := tm.db.ExecContext(ctx, `UPDATE api_tokens SET last_used_at = $1 WHERE id = $2`, now, t.ID); err != nil {
		return nil, fmt.Errorf("failed to update token usage: %w", err)
	}
	t.LastUsedAt = &now
	return t, nil
}

// RevokeToken revokes one of userID's tokens.
func (tm *TokenManager) RevokeToken(ctx context.Context, userID, tokenID int64) error {
	result, err := tm.db.ExecContext(ctx,
		`UPDATE api_tokens SET revoked_at = $1 WHERE id = $2 AND user_id = $3 AND revoked_at IS NULL`,
		tm.now(), tokenID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// ListUserTokens lists a user's tokens, newest first, revoked included.
func (tm *TokenManager) ListUserTokens(ctx context.Context, userID int64) ([]*APIToken, error) {
	rows, err := tm.db.QueryContext(ctx,
		`SELECT `+tokenColumns+` FROM api_tokens WHERE user_id = $1 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*APIToken
	for rows.Next() {
		t, err := tm.scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// CleanupExpiredTokens deletes tokens that expired or were revoked before
// cutoff.
func (tm *TokenManager) CleanupExpiredTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := tm.db.ExecContext(ctx,
		`DELETE FROM api_tokens WHERE expires_at < $1 OR revoked_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up tokens: %w", err)
	}
	return result.RowsAffected()
}

const tokenColumns = `id, user_id, token_hash, token_prefix, name, expires_at, last_used_at, created_at, revoked_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (tm *TokenManager) scanToken(row rowScanner) (*APIToken, error) {
	var (
		t                              APIToken
		expiresAt, lastUsed, revokedAt sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.TokenPrefix, &t.Name,
		&expiresAt, &lastUsed, &t.CreatedAt, &revokedAt); err != nil {
		return nil, err
	}
	t.ExpiresAt = nullTimePtr(expiresAt)
	t.LastUsedAt = nullTimePtr(lastUsed)
	t.RevokedAt = nullTimePtr(revokedAt)
	return &t, nil
}

func nullTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

// Package auth issues and validates API bearer tokens.
//
// Tokens have the form trellis_<base64url(32 random bytes)>. Only the
// SHA-256 hash is stored in api_tokens; the plaintext is returned once by
// CreateToken. ValidateToken rejects unknown, revoked and expired tokens
// with the same ErrInvalidToken so callers cannot tell which case applied.
//
// The HTTP side lives in pkg/middleware, which turns a validated token into
// an access.Session on the request context.
package auth

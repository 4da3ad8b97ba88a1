// Package auth issues opaque session tokens and guards routes. Tokens are
// random, stored only as SHA-256 hashes, and carry no claims: every request
// resolves the live account, so suspensions and role changes apply instantly.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var (
	ErrInvalidSession = errors.New("invalid or expired session")
)

// Session is one issued token, stored hashed.
type Session struct {
	TokenHash string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store persists sessions keyed by token hash.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, tokenHash string) (*Session, error)
	Delete(ctx context.Context, tokenHash string) error
	DeleteByUser(ctx context.Context, userID string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// hashToken derives the storage key for a raw token.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

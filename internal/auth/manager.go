package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/widemind/coursepay/internal/idgen"
	"github.com/widemind/coursepay/internal/metrics"
	"github.com/widemind/coursepay/internal/users"
)

// Manager issues, validates and revokes sessions.
type Manager struct {
	store  Store
	users  *users.Service
	ttl    time.Duration
	logger *slog.Logger
}

// NewManager creates a session manager.
func NewManager(store Store, userSvc *users.Service, ttl time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{store: store, users: userSvc, ttl: ttl, logger: logger}
}

// TTL returns the session lifetime, for cookie max-age.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Issue creates a session for userID and returns the raw token. The raw value
// exists only in this return; storage sees the hash.
func (m *Manager) Issue(ctx context.Context, userID string) (string, error) {
	token := idgen.Hex(32)
	now := time.Now()
	err := m.store.Create(ctx, &Session{
		TokenHash: hashToken(token),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	})
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	metrics.ActiveSessions.Inc()
	return token, nil
}

// Validate resolves a raw token to its live account. Expired sessions are
// deleted on sight.
func (m *Manager) Validate(ctx context.Context, token string) (*users.User, error) {
	if token == "" {
		return nil, ErrInvalidSession
	}
	hash := hashToken(token)
	sess, err := m.store.Get(ctx, hash)
	if err != nil {
		return nil, ErrInvalidSession
	}
	if time.Now().After(sess.ExpiresAt) {
		_ = m.store.Delete(ctx, hash)
		metrics.ActiveSessions.Dec()
		return nil, ErrInvalidSession
	}

	u, err := m.users.Get(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			_ = m.store.Delete(ctx, hash)
			return nil, ErrInvalidSession
		}
		return nil, err
	}
	if u.Suspended {
		return nil, ErrInvalidSession
	}
	return u, nil
}

// Revoke ends one session. Unknown tokens are a no-op.
func (m *Manager) Revoke(ctx context.Context, token string) {
	if token == "" {
		return
	}
	if err := m.store.Delete(ctx, hashToken(token)); err == nil {
		metrics.ActiveSessions.Dec()
	}
}

// RevokeAll ends every session for a user, for suspension and deletion.
func (m *Manager) RevokeAll(ctx context.Context, userID string) error {
	return m.store.DeleteByUser(ctx, userID)
}

// StartReaper deletes expired sessions on interval until ctx is canceled.
func (m *Manager) StartReaper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := m.store.DeleteExpired(ctx, time.Now())
				if err != nil {
					m.logger.Warn("session reap failed", "error", err)
					continue
				}
				if n > 0 {
					metrics.ActiveSessions.Sub(float64(n))
					m.logger.Debug("reaped expired sessions", "count", n)
				}
			}
		}
	}()
}

package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/widemind/coursepay/internal/idgen"
	"github.com/widemind/coursepay/internal/payments"
)

// bcrypt's input limit; longer passwords are rejected rather than truncated.
const maxPasswordLen = 72

// Service implements account registration and credential verification.
type Service struct {
	store    Store
	payments *payments.Engine
	logger   *slog.Logger
}

// NewService creates a user service. Registration provisions the payment
// record through the engine, so every account has one from birth.
func NewService(store Store, engine *payments.Engine, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, payments: engine, logger: logger}
}

// RegisterInput is the registration payload.
type RegisterInput struct {
	Name       string `json:"name" binding:"required"`
	Email      string `json:"email" binding:"required,email"`
	Password   string `json:"password" binding:"required,min=8"`
	Department string `json:"department"`
	Level      string `json:"level"`
}

// Register creates an account with role "user" and an unpaid payment record.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	email := NormalizeEmail(in.Email)
	if in.Name == "" || email == "" || !strings.Contains(email, "@") {
		return nil, ErrInvalidInput
	}
	if len(in.Password) < 8 || len(in.Password) > maxPasswordLen {
		return nil, ErrInvalidInput
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &User{
		ID:           idgen.WithPrefix("usr_"),
		Name:         strings.TrimSpace(in.Name),
		Email:        email,
		PasswordHash: string(hash),
		Department:   strings.TrimSpace(in.Department),
		Level:        strings.TrimSpace(in.Level),
		Role:         RoleUser,
	}
	if err := s.store.Create(ctx, u); err != nil {
		return nil, err
	}

	if err := s.payments.CreateRecord(ctx, u.ID); err != nil {
		// Unwind so the registration can be retried cleanly.
		if derr := s.store.Delete(ctx, u.ID); derr != nil {
			s.logger.Error("orphaned user after payment record failure",
				"user", u.ID, "error", derr)
		}
		return nil, fmt.Errorf("provision payment record: %w", err)
	}

	s.logger.Info("user registered", "user", u.ID, "email", u.Email)
	return u, nil
}

// Authenticate verifies credentials and returns the account. Suspended
// accounts fail even with correct credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	u, err := s.store.GetByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		// Burn comparable time so lookups and mismatches are indistinguishable.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	if u.Suspended {
		return nil, ErrSuspended
	}
	return u, nil
}

// Get returns a user by ID.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	return s.store.GetByID(ctx, id)
}

// List returns all users, for the admin surface.
func (s *Service) List(ctx context.Context) ([]*User, error) {
	return s.store.List(ctx)
}

// SetSuspended toggles the suspension flag.
func (s *Service) SetSuspended(ctx context.Context, id string, suspended bool) error {
	return s.store.SetSuspended(ctx, id, suspended)
}

// ResolveUserByEmail maps a gateway customer email to a user ID.
func (s *Service) ResolveUserByEmail(ctx context.Context, email string) (string, error) {
	u, err := s.store.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

// Delete removes the account and its payment record.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.payments.DeleteRecord(ctx, id); err != nil && !errors.Is(err, payments.ErrUserNotFound) {
		return err
	}
	return nil
}

// dummyHash is a valid bcrypt hash of a throwaway value, used to equalize
// timing on unknown-email logins.
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

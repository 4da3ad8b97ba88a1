// Package users manages accounts: registration, credential checks, and the
// lookup surface other packages use to attribute gateway events to a user.
package users

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound           = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrSuspended          = errors.New("account suspended")
	ErrInvalidInput       = errors.New("invalid registration input")
)

// Roles. Admins are provisioned out of band, never through registration.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is one account.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Department   string    `json:"department,omitempty"`
	Level        string    `json:"level,omitempty"`
	Role         string    `json:"role"`
	Suspended    bool      `json:"suspended"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Store persists user accounts. Email uniqueness is the store's job.
type Store interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context) ([]*User, error)
	SetSuspended(ctx context.Context, id string, suspended bool) error
	Delete(ctx context.Context, id string) error
}

// NormalizeEmail is the canonical form used for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed user store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the users table if it doesn't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id            VARCHAR(64) PRIMARY KEY,
			name          TEXT NOT NULL,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			department    TEXT NOT NULL DEFAULT '',
			level         TEXT NOT NULL DEFAULT '',
			role          VARCHAR(16) NOT NULL DEFAULT 'user',
			suspended     BOOLEAN NOT NULL DEFAULT FALSE,
			created_at    TIMESTAMPTZ DEFAULT NOW(),
			updated_at    TIMESTAMPTZ DEFAULT NOW()
		)
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, u *User) error {
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, department, level, role, suspended, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, u.ID, u.Name, u.Email, u.PasswordHash, u.Department, u.Level, u.Role, u.Suspended, u.CreatedAt, u.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

const selectUser = `
	SELECT id, name, email, password_hash, department, level, role, suspended, created_at, updated_at
	FROM users`

func (p *PostgresStore) GetByID(ctx context.Context, id string) (*User, error) {
	return p.getOne(ctx, selectUser+` WHERE id = $1`, id)
}

func (p *PostgresStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return p.getOne(ctx, selectUser+` WHERE email = $1`, email)
}

func (p *PostgresStore) getOne(ctx context.Context, query string, arg interface{}) (*User, error) {
	var u User
	err := p.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Department, &u.Level,
		&u.Role, &u.Suspended, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (p *PostgresStore) List(ctx context.Context) ([]*User, error) {
	rows, err := p.db.QueryContext(ctx, selectUser+` ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*User
	for rows.Next() {
		var u User
		if err := rows.Scan(
			&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Department, &u.Level,
			&u.Role, &u.Suspended, &u.CreatedAt, &u.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SetSuspended(ctx context.Context, id string, suspended bool) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE users SET suspended = $2, updated_at = NOW() WHERE id = $1
	`, id, suspended)
	if err != nil {
		return fmt.Errorf("set suspended: %w", err)
	}
	return requireRow(result)
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return requireRow(result)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

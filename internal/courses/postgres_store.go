package courses

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed course store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the catalog tables if they don't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS courses (
			id          VARCHAR(64) PRIMARY KEY,
			code        TEXT NOT NULL UNIQUE,
			title       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			department  TEXT NOT NULL DEFAULT '',
			level       TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS materials (
			id        VARCHAR(64) PRIMARY KEY,
			course_id VARCHAR(64) NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
			title     TEXT NOT NULL,
			url       TEXT NOT NULL
		);
	`)
	return err
}

func (p *PostgresStore) List(ctx context.Context) ([]*Course, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, code, title, description, department, level, created_at
		FROM courses ORDER BY code
	`)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Course
	for rows.Next() {
		var c Course
		if err := rows.Scan(&c.ID, &c.Code, &c.Title, &c.Description, &c.Department, &c.Level, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Course, error) {
	var c Course
	err := p.db.QueryRowContext(ctx, `
		SELECT id, code, title, description, department, level, created_at
		FROM courses WHERE id = $1
	`, id).Scan(&c.ID, &c.Code, &c.Title, &c.Description, &c.Department, &c.Level, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get course: %w", err)
	}
	return &c, nil
}

func (p *PostgresStore) Materials(ctx context.Context, courseID string) ([]*Material, error) {
	if _, err := p.Get(ctx, courseID); err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, course_id, title, url FROM materials WHERE course_id = $1 ORDER BY title
	`, courseID)
	if err != nil {
		return nil, fmt.Errorf("list materials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Material
	for rows.Next() {
		var m Material
		if err := rows.Scan(&m.ID, &m.CourseID, &m.Title, &m.URL); err != nil {
			return nil, fmt.Errorf("scan material: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

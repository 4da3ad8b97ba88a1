// Package courses is the read-only catalog served behind the payment gate.
package courses

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("course not found")

// Course is one catalog entry.
type Course struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Department  string    `json:"department,omitempty"`
	Level       string    `json:"level,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Material is one downloadable resource attached to a course.
type Material struct {
	ID       string `json:"id"`
	CourseID string `json:"courseId"`
	Title    string `json:"title"`
	URL      string `json:"url"`
}

// Store reads the catalog. Content management happens out of band.
type Store interface {
	List(ctx context.Context) ([]*Course, error)
	Get(ctx context.Context, id string) (*Course, error)
	Materials(ctx context.Context, courseID string) ([]*Material, error)
}

package courses

import (
	"context"
	"sort"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory catalog for tests and demo mode.
type MemoryStore struct {
	mu        sync.RWMutex
	courses   map[string]*Course
	materials map[string][]*Material // courseID -> materials
}

// NewMemoryStore creates a new in-memory course store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		courses:   make(map[string]*Course),
		materials: make(map[string][]*Material),
	}
}

// Add seeds one course. Not part of the Store interface; only setup code and
// tests call it.
func (m *MemoryStore) Add(c *Course, materials ...*Material) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.courses[cp.ID] = &cp
	for _, mat := range materials {
		mcp := *mat
		mcp.CourseID = cp.ID
		m.materials[cp.ID] = append(m.materials[cp.ID], &mcp)
	}
}

func (m *MemoryStore) List(ctx context.Context) ([]*Course, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Course, 0, len(m.courses))
	for _, c := range m.courses {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Course, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.courses[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) Materials(ctx context.Context, courseID string) ([]*Material, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.courses[courseID]; !ok {
		return nil, ErrNotFound
	}
	mats := m.materials[courseID]
	out := make([]*Material, 0, len(mats))
	for _, mat := range mats {
		cp := *mat
		out = append(out, &cp)
	}
	return out, nil
}

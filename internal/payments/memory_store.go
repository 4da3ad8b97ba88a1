package payments

import (
	"context"
	"sync"
	"time"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory implementation for tests and demo mode.
// A single mutex covers both the records map and the reference index, which
// gives Reconcile the same all-or-nothing behavior as the SQL transaction.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record // userID -> record
	refs    map[string]string  // reference -> userID (idempotency index)
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		refs:    make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.UserID]; ok {
		return ErrRecordExists
	}
	cp := *rec
	m.records[rec.UserID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, userID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) SetOverride(ctx context.Context, userID string, status OverrideStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[userID]
	if !ok {
		return ErrUserNotFound
	}
	rec.OverrideStatus = status
	rec.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) SetPendingReference(ctx context.Context, userID, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[userID]
	if !ok {
		return ErrUserNotFound
	}
	rec.PendingReference = reference
	rec.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[userID]; !ok {
		return ErrUserNotFound
	}
	delete(m.records, userID)
	return nil
}

func (m *MemoryStore) Reconcile(ctx context.Context, userID, reference string, amount int64, paidAt time.Time) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Step 1: the idempotency index is authoritative for duplicates.
	if _, spent := m.refs[reference]; spent {
		return Duplicate, nil
	}

	// Step 2: no record means the whole unit unwinds, claim included.
	rec, ok := m.records[userID]
	if !ok {
		return "", ErrUserNotFound
	}

	// Claim the reference; retained even for rejected outcomes below.
	m.refs[reference] = userID

	result := resolve(rec, amount)
	if result == Transitioned {
		rec.AutomaticStatus = AutomaticPaid
		rec.Reference = reference
		rec.PendingReference = ""
		rec.PaidAt = paidAt
		rec.UpdatedAt = paidAt
	}
	return result, nil
}

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
// Records are lost on restart; suitable for testing and single-clinic
// deployments without PostgreSQL. The zero value is ready to use.
type MemStore struct {
	mu    sync.RWMutex
	cases map[string]Record
	now   func() time.Time
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		cases: make(map[string]Record),
		now:   time.Now,
	}
}

// Add implements [Store.Add].
func (s *MemStore) Add(ctx context.Context, rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cases == nil {
		s.cases = make(map[string]Record)
	}
	if s.now == nil {
		s.now = time.Now
	}

	if rec.ID == "" {
		// Regenerate on the unlikely suffix collision.
		for {
			rec.ID = NewCaseID(s.now())
			if _, exists := s.cases[rec.ID]; !exists {
				break
			}
		}
	} else if _, exists := s.cases[rec.ID]; exists {
		return Record{}, ErrDuplicateID
	}

	if rec.Status == "" {
		rec.Status = StatusCreated
	}
	now := s.now()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	s.cases[rec.ID] = rec
	return rec, nil
}

// Get implements [Store.Get].
func (s *MemStore) Get(ctx context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.cases[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// List implements [Store.List].
func (s *MemStore) List(ctx context.Context, opts ListOptions) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Record, 0, len(s.cases))
	for _, rec := range s.cases {
		if opts.Status != "" && rec.Status != opts.Status {
			continue
		}
		result = append(result, rec)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// Update implements [Store.Update].
func (s *MemStore) Update(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.cases[rec.ID]
	if !ok {
		return ErrNotFound
	}
	rec.CreatedAt = existing.CreatedAt
	rec.UpdatedAt = s.now()
	s.cases[rec.ID] = rec
	return nil
}

// Remove implements [Store.Remove].
func (s *MemStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cases[id]; !ok {
		return ErrNotFound
	}
	delete(s.cases, id)
	return nil
}

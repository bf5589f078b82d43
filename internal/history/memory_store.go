package history

import (
	"context"
	"sync"
)

// MemoryStore keeps records in memory. It backs tests and runs without a
// configured history backend.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Record implements Store.
func (m *MemoryStore) Record(_ context.Context, r *Record) error {
	r.prepare()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.ID] = copyRecord(*r)
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := copyRecord(r)
	return &c, nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, copyRecord(r))
	}
	return newestFirst(out, limit), nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}

func copyRecord(r Record) Record {
	counts := make(map[string]int, len(r.Counts))
	for k, v := range r.Counts {
		counts[k] = v
	}
	r.Counts = counts
	return r
}

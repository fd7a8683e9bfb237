package transfer

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository keeps records in process. It backs the "memory" database
// driver used for local runs and handler tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]Record)}
}

func (m *MemoryRepository) Insert(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.Token]; ok {
		return Backend("token already in use", nil)
	}
	m.records[rec.Token] = rec
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, token string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[token]
	if !ok {
		return Record{}, NotFound()
	}
	return rec, nil
}

func (m *MemoryRepository) Delete(_ context.Context, token string) error {
	m.mu.Lock()
	delete(m.records, token)
	m.mu.Unlock()
	return nil
}

func (m *MemoryRepository) ListExpiring(_ context.Context) ([]Record, error) {
	m.mu.RLock()
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		if rec.ExpiresAt != nil {
			out = append(out, rec)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	return out, nil
}

func (m *MemoryRepository) Ping(context.Context) error { return nil }

func (m *MemoryRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

package store

import (
	"context"
	"sync"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) Load(_ context.Context, deviceID string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[deviceID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return cloneRecord(record), nil
}

func (m *MemoryStore) Save(_ context.Context, deviceID string, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[deviceID] = cloneRecord(record)
	return nil
}

func cloneRecord(r Record) Record {
	if r.Auth != nil {
		auth := *r.Auth
		r.Auth = &auth
	}
	return r
}

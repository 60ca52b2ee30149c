package library

import (
	"context"
	"sync"
)

// MemoryRecordStore keeps records in-process. Nothing survives a restart.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string][]byte
	puts    int
}

// NewMemoryRecordStore initializes an empty in-memory store.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[string][]byte)}
}

// PutRecord stores a copy of value under key.
func (m *MemoryRecordStore) PutRecord(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = append([]byte(nil), value...)
	m.puts++
	return nil
}

// GetRecord returns a copy of the value stored under key.
func (m *MemoryRecordStore) GetRecord(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.records[key]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return append([]byte(nil), v...), nil
}

// Puts is the number of writes accepted so far.
func (m *MemoryRecordStore) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}

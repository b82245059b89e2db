package ipcache

import (
	"sync"
	"time"
)

// MemoryStore implements Store with an in-process map. It is the default
// backend for single-instance deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

func (m *MemoryStore) Get(ip string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[ip]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) Upsert(e *Entry) error {
	cp := *e
	m.mu.Lock()
	m.entries[e.IP] = &cp
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(ip string) error {
	m.mu.Lock()
	delete(m.entries, ip)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	m.entries = make(map[string]*Entry)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) GC(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).Unix()
	dropped := 0

	m.mu.Lock()
	for ip, e := range m.entries {
		if e.Time < cutoff {
			delete(m.entries, ip)
			dropped++
		}
	}
	m.mu.Unlock()
	return dropped, nil
}

func (m *MemoryStore) Count() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

func (m *MemoryStore) Close() error { return nil }

package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store. Expired entries are dropped lazily.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates a MemoryStore. A non-positive ttl uses DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		entries: make(map[string]*Entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *MemoryStore) live(key string) *Entry {
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	if m.now().Sub(e.UpdatedAt) > m.ttl {
		delete(m.entries, key)
		return nil
	}
	return e
}

// Begin implements Store.
func (m *MemoryStore) Begin(_ context.Context, key string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e := m.live(key); e != nil {
		cp := *e
		return &cp, nil
	}
	now := m.now()
	m.entries[key] = &Entry{Key: key, State: StateProcessing, CreatedAt: now, UpdatedAt: now}
	return nil, nil
}

// Complete implements Store.
func (m *MemoryStore) Complete(_ context.Context, key string, statusCode int, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e := m.live(key)
	if e == nil {
		e = &Entry{Key: key, CreatedAt: now}
		m.entries[key] = e
	}
	e.State = StateComplete
	e.StatusCode = statusCode
	e.Body = append([]byte(nil), body...)
	e.UpdatedAt = now
	return nil
}

// Release implements Store.
func (m *MemoryStore) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok && e.State == StateProcessing {
		delete(m.entries, key)
	}
	return nil
}

// Len returns the number of live entries.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k := range m.entries {
		if m.live(k) != nil {
			n++
		}
	}
	return n
}

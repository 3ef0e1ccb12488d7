package source

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store, used for local runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]byte

	deletes int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]byte)}
}

// Put enqueues body under key, replacing any existing entry.
func (m *MemoryStore) Put(key string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = append([]byte(nil), body...)
}

func (m *MemoryStore) ListKeys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) ReadEntry(ctx context.Context, key string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.entries[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return Entry{Key: key, Body: append([]byte(nil), b...)}, nil
}

func (m *MemoryStore) DeleteEntry(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[key]; ok {
		m.deletes++
		delete(m.entries, key)
	}
	return nil
}

// Len is the number of queued entries.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Deletes counts entries actually removed, ignoring deletes of missing keys.
func (m *MemoryStore) Deletes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deletes
}

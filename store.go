package fieldsync

import (
	"context"
	"os"
	"strings"
	"sync"
)

// DurableStore is the crash-durable key-value interface the engine persists
// through. Any implementation satisfying this contract is acceptable: the
// package ships in-memory, local-file, SQLite, and S3 backends.
//
// Get returns os.ErrNotExist (possibly wrapped) for missing keys.
type DurableStore interface {
	// Get reads the value stored at key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set durably writes value at key before returning.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// ListKeys returns all keys with the given prefix, in no particular
	// order.
	ListKeys(ctx context.Context, prefix string) ([]string, error)

	// Close releases any resources.
	Close() error
}

// Ensure the shipped backends satisfy the interface.
var (
	_ DurableStore = (*MemoryStore)(nil)
	_ DurableStore = (*FileStore)(nil)
	_ DurableStore = (*SQLiteStore)(nil)
	_ DurableStore = (*S3Store)(nil)
)

// MemoryStore implements DurableStore in memory. It is not durable across
// restarts; it exists for tests and for callers that accept session-only
// queues.
type MemoryStore struct {
	data map[string][]byte
	mu   sync.RWMutex
}

// NewMemoryStore creates an in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.data[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return append([]byte(nil), value...), nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

func (m *MemoryStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Snapshot returns a copy of the store contents. Used by tests to simulate a
// process restart by seeding a fresh store.
func (m *MemoryStore) Snapshot() map[string][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]byte, len(m.data))
	for k, v := range m.data {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

// NewMemoryStoreFrom creates an in-memory store seeded with existing data.
func NewMemoryStoreFrom(data map[string][]byte) *MemoryStore {
	store := NewMemoryStore()
	for k, v := range data {
		store.data[k] = append([]byte(nil), v...)
	}
	return store
}

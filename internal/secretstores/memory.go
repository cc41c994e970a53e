package secretstores

import (
	"context"
	"sync"
)

// MemoryStore keeps secrets in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: make(map[string]string)}
}

// Name implements Store.
func (m *MemoryStore) Name() string {
	return "memory"
}

// Put implements Store.
func (m *MemoryStore) Put(ctx context.Context, ref, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[ref] = value
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, ref string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.secrets[ref]
	if !ok {
		return "", notFound(ref)
	}
	return v, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.secrets, ref)
	return nil
}

// Refs returns the stored references.
func (m *MemoryStore) Refs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	refs := make([]string, 0, len(m.secrets))
	for k := range m.secrets {
		refs = append(refs, k)
	}
	return refs
}

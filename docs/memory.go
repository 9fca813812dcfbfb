package docs

import (
	"context"
	"sort"
	"sync"

	"github.com/hupe1980/relaymesh/core"
)

var _ core.DocumentStore = (*Memory)(nil)

// Memory is a trivial in-process DocumentStore. Data is copied on Put and
// Read to avoid accidental external mutation of internal buffers.
type Memory struct {
	mu       sync.RWMutex
	location string
	docs     map[string][]byte
}

// NewMemory returns an empty in-memory document store.
func NewMemory(location string) *Memory {
	return &Memory{location: location, docs: make(map[string][]byte)}
}

// Put stores (or overwrites) a document. The input slice is copied.
func (m *Memory) Put(name string, data []byte) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[name] = append([]byte(nil), data...)
	return m
}

// Location implements core.DocumentStore.
func (m *Memory) Location() string { return m.location }

// List returns the document names in lexical order.
func (m *Memory) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.docs))
	for name := range m.docs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Read returns a copy of the document bytes or ErrNotFound.
func (m *Memory) Read(_ context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.docs[name]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

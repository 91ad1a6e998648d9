// ABOUTME: In-memory KV implementation for testing
// ABOUTME: Supports injected failures so callers can exercise persistence errors

package store

import (
	"context"
	"errors"
	"sync"
)

// ErrInjected is returned by MemoryKV when a failure has been injected.
var ErrInjected = errors.New("injected failure")

// MemoryKV is an in-memory KV for tests and ephemeral sessions.
type MemoryKV struct {
	mu       sync.RWMutex
	data     map[string][]byte
	failGet  bool
	failSet  bool
	setCalls int
}

// NewMemoryKV creates an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

// FailReads makes every Get return ErrInjected.
func (m *MemoryKV) FailReads(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failGet = fail
}

// FailWrites makes every Set return ErrInjected.
func (m *MemoryKV) FailWrites(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSet = fail
}

// Writes returns how many times Set has been called.
func (m *MemoryKV) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.setCalls
}

// Get returns a copy of the stored value.
func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failGet {
		return nil, ErrInjected
	}
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Set stores a copy of value.
func (m *MemoryKV) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.setCalls++
	if m.failSet {
		return ErrInjected
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

// Delete removes key.
func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Close is a no-op.
func (m *MemoryKV) Close() error { return nil }

package sessionstore

import (
	"context"
	"sync"
)

// Memory keeps values in process memory.
type Memory struct {
	mu   sync.RWMutex
	data map[Lifetime]map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		data: map[Lifetime]map[string]string{
			Persistent: {},
			Attempt:    {},
		},
	}
}

// Get returns the value for key and whether it was present.
func (m *Memory) Get(_ context.Context, lifetime Lifetime, key string) (string, bool, error) {
	if err := validLifetime(lifetime); err != nil {
		return "", false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[lifetime][key]
	return v, ok, nil
}

// Set stores value under key.
func (m *Memory) Set(_ context.Context, lifetime Lifetime, key, value string) error {
	if err := validLifetime(lifetime); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[lifetime][key] = value
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (m *Memory) Delete(_ context.Context, lifetime Lifetime, key string) error {
	if err := validLifetime(lifetime); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data[lifetime], key)
	return nil
}

// Len returns the number of values stored under lifetime.
func (m *Memory) Len(lifetime Lifetime) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data[lifetime])
}

package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryConfig tunes the in-process cache. A nil clock falls back to the
// wall clock.
type MemoryConfig struct {
	Clock func() time.Time
}

// Memory is a process-local Cache. Expired entries are dropped lazily on
// read, so the map stays bounded by the working set.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	clock   func() time.Time
}

// NewMemory returns an empty in-process cache.
func NewMemory(config MemoryConfig) *Memory {
	clock := config.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Memory{entries: map[string]memoryEntry{}, clock: clock}
}

// Get returns the value for key or ErrMiss.
func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return "", ErrMiss
	}
	if !entry.expiresAt.IsZero() && !m.clock().Before(entry.expiresAt) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return "", ErrMiss
	}
	return entry.value, nil
}

// Set stores the value, replacing any previous entry.
func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = m.clock().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
	return nil
}

// Delete removes the given keys. Missing keys are ignored.
func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	for _, key := range keys {
		delete(m.entries, key)
	}
	m.mu.Unlock()
	return nil
}

// Close releases nothing; it exists to satisfy Cache.
func (m *Memory) Close() error {
	return nil
}

package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process Cache with per-entry TTL. Used when no Redis is
// configured and in tests. Expired entries are dropped lazily on read.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// GetOrCompute implements Cache. Compute runs outside the lock; concurrent
// misses on the same key may compute twice, last write wins.
func (m *Memory) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	m.mu.Lock()
	entry, ok := m.entries[key]
	if ok && m.now().Before(entry.expiresAt) {
		value := make([]byte, len(entry.value))
		copy(value, entry.value)
		m.mu.Unlock()
		return value, nil
	}
	if ok {
		delete(m.entries, key)
	}
	m.mu.Unlock()

	value, err := compute(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	stored := make([]byte, len(value))
	copy(stored, value)
	m.entries[key] = memoryEntry{value: stored, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
	return value, nil
}

// Invalidate implements Cache.
func (m *Memory) Invalidate(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.entries, key)
	}
	return nil
}

package cache

import (
	"context"
	"sync"
	"time"
)

// IdempotencyStore remembers keys that were already handled, so a repeated
// delivery of the same webhook can be acknowledged without reprocessing.
type IdempotencyStore interface {
	// MarkProcessed records key and reports whether this call was the first.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release forgets key so a failed attempt can be retried.
	Release(ctx context.Context, key string) error
}

// NoopIdempotencyStore treats every key as new. Correctness does not depend
// on it because the stores resolve duplicates themselves.
type NoopIdempotencyStore struct{}

func (NoopIdempotencyStore) MarkProcessed(_ context.Context, _ string, _ time.Duration) (bool, error) {
	return true, nil
}

func (NoopIdempotencyStore) Release(_ context.Context, _ string) error {
	return nil
}

// MemoryIdempotencyStore is the in-process variant used by tests and by the
// server when Redis is unavailable.
type MemoryIdempotencyStore struct {
	mu   sync.Mutex
	now  func() time.Time
	keys map[string]time.Time
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{now: time.Now, keys: make(map[string]time.Time)}
}

func (m *MemoryIdempotencyStore) MarkProcessed(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if expires, ok := m.keys[key]; ok && now.Before(expires) {
		return false, nil
	}
	m.keys[key] = now.Add(ttl)
	return true, nil
}

func (m *MemoryIdempotencyStore) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.keys, key)
	return nil
}

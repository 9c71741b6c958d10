package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryIdempotency keeps request ids in process memory until they expire.
type MemoryIdempotency struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	keys map[string]time.Time
	ops  int
}

func NewMemoryIdempotency(ttl time.Duration) *MemoryIdempotency {
	return &MemoryIdempotency{ttl: ttl, now: time.Now, keys: make(map[string]time.Time)}
}

func (m *MemoryIdempotency) Reserve(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if exp, ok := m.keys[key]; ok && (m.ttl <= 0 || now.Before(exp)) {
		return false, nil
	}
	m.keys[key] = now.Add(m.ttl)
	if m.ops++; m.ops%256 == 0 {
		m.sweep(now)
	}
	return true, nil
}

func (m *MemoryIdempotency) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

func (m *MemoryIdempotency) sweep(now time.Time) {
	if m.ttl <= 0 {
		return
	}
	for k, exp := range m.keys {
		if !now.Before(exp) {
			delete(m.keys, k)
		}
	}
}

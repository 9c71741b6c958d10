// Package lock implements per-entity exclusive locks with FIFO hand-off.
//
// Every caller acquires its whole lock set in ascending id order, so two
// callers with overlapping sets always contend in the same relative order and
// circular waits cannot form.
package lock

import (
	"context"
	"slices"
	"sync"

	"github.com/volundmush/mudsnake/internal/core/domain"
)

type entry struct {
	held    bool
	waiters []chan struct{}
	// refs counts the holder plus queued waiters; idle entries are dropped.
	refs int
}

// Manager owns the lock table. The zero value is not usable; call NewManager.
type Manager struct {
	mu      sync.Mutex
	entries map[domain.ID]*entry
}

func NewManager() *Manager {
	return &Manager{entries: make(map[domain.ID]*entry)}
}

// Order returns ids deduplicated, without empty ids, in acquisition order.
func Order(ids []domain.ID) []domain.ID {
	out := make([]domain.ID, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Acquire locks every id in ascending order and blocks until all are held or
// ctx is done. On failure nothing stays locked and the error is of kind
// LockTimeout wrapping the context error.
func (m *Manager) Acquire(ctx context.Context, ids []domain.ID) (*Guard, error) {
	ordered := Order(ids)
	g := &Guard{m: m, ids: make([]domain.ID, 0, len(ordered))}
	for _, id := range ordered {
		if err := m.lock(ctx, id); err != nil {
			g.Release()
			return nil, err
		}
		g.ids = append(g.ids, id)
	}
	return g, nil
}

func (m *Manager) lock(ctx context.Context, id domain.ID) error {
	if err := ctx.Err(); err != nil {
		return domain.WrapError(domain.KindLockTimeout, "acquire lock", id, err)
	}

	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok {
		e = &entry{}
		m.entries[id] = e
	}
	e.refs++
	if !e.held {
		e.held = true
		m.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	e.waiters = append(e.waiters, ch)
	m.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-ch:
		// Handed off between ctx expiring and re-taking mu; pass it on.
		m.unlockLocked(id)
	default:
		if idx := slices.Index(e.waiters, ch); idx >= 0 {
			e.waiters = slices.Delete(e.waiters, idx, idx+1)
		}
		e.refs--
		if e.refs == 0 && !e.held {
			delete(m.entries, id)
		}
	}
	return domain.WrapError(domain.KindLockTimeout, "acquire lock", id, ctx.Err())
}

func (m *Manager) unlock(id domain.ID) {
	m.mu.Lock()
	m.unlockLocked(id)
	m.mu.Unlock()
}

func (m *Manager) unlockLocked(id domain.ID) {
	e, ok := m.entries[id]
	if !ok || !e.held {
		return
	}
	e.refs--
	if len(e.waiters) > 0 {
		next := e.waiters[0]
		e.waiters = e.waiters[1:]
		close(next)
		return
	}
	e.held = false
	if e.refs == 0 {
		delete(m.entries, id)
	}
}

// Len reports how many ids currently have a holder or waiters.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Guard is a held lock set. Release frees every lock at once.
type Guard struct {
	m    *Manager
	ids  []domain.ID
	once sync.Once
}

// IDs returns the held ids in acquisition order.
func (g *Guard) IDs() []domain.ID {
	return slices.Clone(g.ids)
}

// Covers reports whether every id in ids is held by g.
func (g *Guard) Covers(ids []domain.ID) bool {
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, found := slices.BinarySearch(g.ids, id); !found {
			return false
		}
	}
	return true
}

func (g *Guard) Release() {
	if g == nil {
		return
	}
	g.once.Do(func() {
		for i := len(g.ids) - 1; i >= 0; i-- {
			g.m.unlock(g.ids[i])
		}
	})
}

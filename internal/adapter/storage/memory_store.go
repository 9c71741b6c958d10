package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/volundmush/mudsnake/internal/core/domain"
	"github.com/volundmush/mudsnake/internal/port"
)

type memoryRecord struct {
	entity  domain.Entity
	version uint64
}

// MemoryStore is a process-local object store. It keeps the same version
// semantics as the durable stores and is what tests and single-node
// development servers run on.
type MemoryStore struct {
	mu      sync.Mutex
	records map[domain.ID]memoryRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[domain.ID]memoryRecord)}
}

func (m *MemoryStore) Load(ctx context.Context, id domain.ID) (domain.Entity, uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, 0, fmt.Errorf("load %s: %w", id, domain.ErrNotFound)
	}
	return rec.entity.WithVersion(rec.version), rec.version, nil
}

func (m *MemoryStore) Save(ctx context.Context, e domain.Entity, expected uint64) error {
	return m.Apply(ctx, []port.Write{{Op: port.WriteSave, ID: e.EntityID(), Entity: e, Expected: expected}})
}

func (m *MemoryStore) Delete(ctx context.Context, id domain.ID, expected uint64) error {
	return m.Apply(ctx, []port.Write{{Op: port.WriteDelete, ID: id, Expected: expected}})
}

// Apply checks every expected version before touching anything.
func (m *MemoryStore) Apply(ctx context.Context, writes []port.Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range writes {
		if m.records[w.ID].version != w.Expected {
			return fmt.Errorf("%s: expected version %d, have %d: %w", w.ID, w.Expected, m.records[w.ID].version, port.ErrVersionMismatch)
		}
	}
	for _, w := range writes {
		switch w.Op {
		case port.WriteDelete:
			delete(m.records, w.ID)
		default:
			m.records[w.ID] = memoryRecord{entity: w.Entity.Clone(), version: w.Expected + 1}
		}
	}
	return nil
}

// Len reports the number of stored entities.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

package service

import (
	"context"

	"github.com/volundmush/mudsnake/internal/core/domain"
	"github.com/volundmush/mudsnake/internal/core/graph"
	"github.com/volundmush/mudsnake/internal/core/lock"
	"github.com/volundmush/mudsnake/internal/port"
)

// reader is the read side shared by the graph and a working set.
type reader interface {
	Get(ctx context.Context, id domain.ID) (domain.Entity, error)
}

func get[T domain.Entity](ctx context.Context, r reader, id domain.ID) (T, error) {
	var zero T
	e, err := r.Get(ctx, id)
	if err != nil {
		return zero, err
	}
	v, ok := e.(T)
	if !ok {
		return zero, domain.NewError(domain.KindNotFound, "get", id, "entity is a %s", e.EntityKind())
	}
	return v, nil
}

// working is the private overlay a transaction mutates. Nothing here is
// visible to other readers until commit has persisted it and published it to
// the graph.
type working struct {
	g     *graph.Graph
	guard *lock.Guard
	tx    *Transaction

	base    map[domain.ID]domain.Entity
	cur     map[domain.ID]domain.Entity
	deleted map[domain.ID]struct{}
	created map[domain.ID]struct{}
	order   []domain.ID
	seen    map[domain.ID]struct{}

	events  []domain.Event
	newItem []domain.ID
}

func newWorking(g *graph.Graph, guard *lock.Guard, tx *Transaction) *working {
	return &working{
		g:       g,
		guard:   guard,
		tx:      tx,
		base:    make(map[domain.ID]domain.Entity),
		cur:     make(map[domain.ID]domain.Entity),
		deleted: make(map[domain.ID]struct{}),
		created: make(map[domain.ID]struct{}),
		seen:    make(map[domain.ID]struct{}),
	}
}

func (w *working) Get(ctx context.Context, id domain.ID) (domain.Entity, error) {
	if _, gone := w.deleted[id]; gone {
		return nil, domain.NewError(domain.KindNotFound, "get", id, "destroyed earlier in this transaction")
	}
	if e, ok := w.cur[id]; ok {
		return e.Clone(), nil
	}
	e, err := w.g.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, seen := w.base[id]; !seen {
		w.base[id] = e.Clone()
	}
	return e.Clone(), nil
}

func (w *working) writable(id domain.ID) error {
	if _, ok := w.created[id]; ok {
		return nil
	}
	if !w.guard.Covers([]domain.ID{id}) {
		return domain.NewError(domain.KindStaleState, "write", id, "entity is outside the locked set")
	}
	if _, ok := w.base[id]; !ok {
		return domain.NewError(domain.KindStaleState, "write", id, "entity was never read")
	}
	return nil
}

func (w *working) touch(id domain.ID) {
	if _, ok := w.seen[id]; ok {
		return
	}
	w.seen[id] = struct{}{}
	w.order = append(w.order, id)
}

func (w *working) put(e domain.Entity) error {
	id := e.EntityID()
	if err := w.writable(id); err != nil {
		return err
	}
	w.cur[id] = e.Clone()
	w.touch(id)
	return nil
}

func (w *working) create(e domain.Entity) {
	id := e.EntityID()
	w.created[id] = struct{}{}
	w.cur[id] = e.Clone()
	w.touch(id)
}

func (w *working) remove(id domain.ID) error {
	if err := w.writable(id); err != nil {
		return err
	}
	delete(w.cur, id)
	w.deleted[id] = struct{}{}
	w.touch(id)
	return nil
}

func (w *working) emit(typ domain.EventType, item domain.ID, from, to domain.Parent, count int) {
	w.events = append(w.events, domain.Event{
		Type:       typ,
		TxID:       w.tx.ID,
		TxName:     w.tx.Name,
		ActorID:    w.tx.Actor,
		ItemID:     item,
		FromParent: from,
		ToParent:   to,
		Count:      count,
	})
}

// changes turns the overlay into graph changes and store writes. Entities
// created and destroyed inside the same transaction produce neither.
func (w *working) changes() ([]graph.Change, []port.Write) {
	changes := make([]graph.Change, 0, len(w.order))
	writes := make([]port.Write, 0, len(w.order))
	for _, id := range w.order {
		_, isNew := w.created[id]
		_, gone := w.deleted[id]
		var expected uint64
		if !isNew {
			expected = w.base[id].EntityVersion()
		}
		switch {
		case isNew && gone:
			continue
		case gone:
			changes = append(changes, graph.Change{ID: id, Deleted: true})
			writes = append(writes, port.Write{Op: port.WriteDelete, ID: id, Expected: expected})
		default:
			e := w.cur[id].WithVersion(expected + 1)
			changes = append(changes, graph.Change{ID: id, Entity: e})
			writes = append(writes, port.Write{Op: port.WriteSave, ID: id, Entity: e, Expected: expected})
		}
	}
	return changes, writes
}

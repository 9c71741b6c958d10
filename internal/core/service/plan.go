package service

import (
	"context"
	"slices"

	"github.com/volundmush/mudsnake/internal/core/domain"
	"github.com/volundmush/mudsnake/internal/core/lock"
)

// planner collects the lock set of a transaction from committed state.
// Missing entities are skipped here; validation reports them under the locks.
type planner struct {
	s   *InventoryService
	tx  *Transaction
	ids map[domain.ID]struct{}
	err error
}

func (s *InventoryService) plan(ctx context.Context, tx *Transaction) ([]domain.ID, error) {
	p := &planner{s: s, tx: tx, ids: make(map[domain.ID]struct{})}
	p.add(tx.Actor)
	p.add(tx.Touches...)
	for _, step := range tx.Steps {
		switch st := step.(type) {
		case MoveItemToContainer:
			it, ok := p.item(ctx, st.Item)
			p.container(ctx, st.To, it.Template, ok)
		case MoveItemToSlot:
			it, ok := p.item(ctx, st.Item)
			if ok {
				p.slot(ctx, st.Slot, it.Template, it.ID)
			} else {
				p.add(st.Slot)
			}
		case UnequipToContainer:
			p.add(st.Slot)
			sl, ok := p.getSlot(ctx, st.Slot)
			if !ok {
				continue
			}
			it, ok := p.item(ctx, sl.Item)
			to := st.To
			if to == "" {
				to = p.root(ctx, sl.Actor)
			}
			p.container(ctx, to, it.Template, ok)
		case CreateItem:
			if st.ToSlot != "" {
				p.slot(ctx, st.ToSlot, st.Template, "")
			} else {
				p.container(ctx, st.ToContainer, st.Template, true)
			}
		case DestroyItem:
			p.item(ctx, st.Item)
			p.subtree(ctx, st.Item, 0)
		}
		if p.err != nil {
			return nil, p.err
		}
	}
	out := make([]domain.ID, 0, len(p.ids))
	for id := range p.ids {
		out = append(out, id)
	}
	return lock.Order(out), nil
}

func (p *planner) add(ids ...domain.ID) {
	for _, id := range ids {
		if id != "" {
			p.ids[id] = struct{}{}
		}
	}
}

// keep records hard failures and reports whether the lookup succeeded.
func (p *planner) keep(err error) bool {
	if err == nil {
		return true
	}
	if !domain.IsKind(err, domain.KindNotFound) && p.err == nil {
		p.err = err
	}
	return false
}

// item adds an item and everything currently holding it.
func (p *planner) item(ctx context.Context, id domain.ID) (domain.Item, bool) {
	p.add(id)
	it, err := p.s.graph.Item(ctx, id)
	if !p.keep(err) {
		return domain.Item{}, false
	}
	p.add(it.Container)
	p.add(it.Occupies()...)
	return it, true
}

func (p *planner) getSlot(ctx context.Context, id domain.ID) (domain.Slot, bool) {
	sl, err := p.s.graph.Slot(ctx, id)
	return sl, p.keep(err)
}

func (p *planner) root(ctx context.Context, actorID domain.ID) domain.ID {
	p.add(actorID)
	a, err := p.s.graph.Actor(ctx, actorID)
	if !p.keep(err) {
		return ""
	}
	return a.RootContainer
}

func (p *planner) ancestors(ctx context.Context, containerID domain.ID) {
	chain, err := p.s.graph.Ancestors(ctx, containerID)
	if p.keep(err) {
		p.add(chain...)
	}
}

// container adds a destination, the chain above it and the partial stacks a
// merge of template may top up.
func (p *planner) container(ctx context.Context, id domain.ID, template string, known bool) {
	p.add(id)
	if id == "" {
		return
	}
	p.ancestors(ctx, id)
	if !known {
		return
	}
	t, ok := p.s.registry.Template(template)
	if !ok || !t.Stackable() {
		return
	}
	c, err := p.s.graph.Container(ctx, id)
	if !p.keep(err) {
		return
	}
	for _, child := range c.Contents {
		it, err := p.s.graph.Item(ctx, child)
		if !p.keep(err) {
			continue
		}
		if it.Template == template && it.Count < t.StackLimit() {
			p.add(child)
		}
	}
}

// slot adds an equip target: the slot, its actor, every slot of the span and,
// when conflicts may be vacated, the occupants and where they will go.
func (p *planner) slot(ctx context.Context, id domain.ID, template string, self domain.ID) {
	p.add(id)
	sl, ok := p.getSlot(ctx, id)
	if !ok {
		return
	}
	p.add(sl.Actor)
	a, err := p.s.graph.Actor(ctx, sl.Actor)
	if !p.keep(err) {
		return
	}
	tags := []domain.SlotTag{sl.Tag}
	if t, ok := p.s.registry.Template(template); ok {
		if span, err := p.s.registry.SpanFor(a.Template, t, sl.Tag); err == nil {
			tags = span
		}
	}
	var occupants []domain.Item
	for _, tag := range tags {
		sid, ok := a.SlotFor(tag)
		if !ok {
			continue
		}
		p.add(sid)
		other, ok := p.getSlot(ctx, sid)
		if !ok || other.Empty() || other.Item == self {
			continue
		}
		if slices.ContainsFunc(occupants, func(it domain.Item) bool { return it.ID == other.Item }) {
			continue
		}
		if it, ok := p.item(ctx, other.Item); ok {
			occupants = append(occupants, it)
		}
	}
	if len(occupants) == 0 || !p.tx.Policy.AutoUnequipConflicts {
		return
	}
	to := p.tx.Policy.UnequipTo
	if to == "" {
		to = a.RootContainer
	}
	for _, it := range occupants {
		p.container(ctx, to, it.Template, true)
	}
}

// subtree adds the inner container of a bag and everything packed inside it.
func (p *planner) subtree(ctx context.Context, id domain.ID, depth int) {
	if depth > maxNesting {
		return
	}
	it, err := p.s.graph.Item(ctx, id)
	if !p.keep(err) || it.Inner == "" {
		return
	}
	p.add(it.Inner)
	c, err := p.s.graph.Container(ctx, it.Inner)
	if !p.keep(err) {
		return
	}
	for _, child := range c.Contents {
		p.add(child)
		p.subtree(ctx, child, depth+1)
	}
}

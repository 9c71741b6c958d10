package service

import (
	"context"
	"slices"

	"github.com/volundmush/mudsnake/internal/core/domain"
	"github.com/volundmush/mudsnake/internal/core/schema"
)

func (s *InventoryService) apply(ctx context.Context, w *working, step Step) error {
	switch st := step.(type) {
	case MoveItemToContainer:
		return s.moveToContainer(ctx, w, st)
	case MoveItemToSlot:
		return s.moveToSlot(ctx, w, st)
	case UnequipToContainer:
		return s.unequip(ctx, w, st)
	case CreateItem:
		return s.createItem(ctx, w, st)
	case DestroyItem:
		return s.destroyItem(ctx, w, st)
	default:
		return domain.NewError(domain.KindStaleState, "apply", w.tx.ID, "unsupported step %T", step)
	}
}

func expectParent(it domain.Item, from domain.Parent) error {
	if from.IsZero() || it.Parent() == from {
		return nil
	}
	return domain.NewError(domain.KindStaleState, "check parent", it.ID, "expected %s, found %s", from, it.Parent())
}

func (s *InventoryService) moveToContainer(ctx context.Context, w *working, st MoveItemToContainer) error {
	it, err := get[domain.Item](ctx, w, st.Item)
	if err != nil {
		return err
	}
	if _, err := get[domain.Container](ctx, w, st.To); err != nil {
		return err
	}
	if err := expectParent(it, st.From); err != nil {
		return err
	}
	if st.Count < 0 || st.Count > it.Count {
		return domain.NewError(domain.KindStaleState, "split", it.ID, "cannot take %d from a stack of %d", st.Count, it.Count)
	}

	if st.Count == 0 || st.Count == it.Count {
		if it.Container == st.To {
			return s.reorder(ctx, w, it, st.Index)
		}
		typ := domain.EventItemMoved
		if it.Slot != "" {
			typ = domain.EventItemUnequipped
		}
		return s.place(ctx, w, it, st.To, st.Index, typ)
	}
	return s.split(ctx, w, it, st.To, st.Index, st.Count)
}

func (s *InventoryService) reorder(ctx context.Context, w *working, it domain.Item, index *int) error {
	c, err := get[domain.Container](ctx, w, it.Container)
	if err != nil {
		return err
	}
	c.Remove(it.ID)
	c.Insert(it.ID, index)
	if err := w.put(c); err != nil {
		return err
	}
	w.emit(domain.EventItemMoved, it.ID, domain.ContainerParent(c.ID), domain.ContainerParent(c.ID), it.Count)
	return nil
}

// detach takes an item out of its container or slots without placing it.
func detach(ctx context.Context, w *working, it *domain.Item) error {
	if it.Container != "" {
		c, err := get[domain.Container](ctx, w, it.Container)
		if err != nil {
			return err
		}
		if !c.Remove(it.ID) {
			return domain.NewError(domain.KindStaleState, "detach", it.ID, "not listed in container %s", c.ID)
		}
		if err := w.put(c); err != nil {
			return err
		}
	}
	for _, sid := range it.Occupies() {
		sl, err := get[domain.Slot](ctx, w, sid)
		if err != nil {
			return err
		}
		if sl.Item != it.ID {
			return domain.NewError(domain.KindStaleState, "detach", it.ID, "slot %s holds %q", sl.ID, sl.Item)
		}
		sl.Item = ""
		if err := w.put(sl); err != nil {
			return err
		}
	}
	it.Container, it.Slot, it.Spans = "", "", nil
	return nil
}

// place moves a whole item into dest, merging it into partial stacks first.
// An item whose units are all absorbed disappears.
func (s *InventoryService) place(ctx context.Context, w *working, it domain.Item, dest domain.ID, index *int, typ domain.EventType) error {
	if err := checkCycle(ctx, w, it.ID, dest); err != nil {
		return err
	}
	t, err := s.template(it)
	if err != nil {
		return err
	}
	from := it.Parent()
	if err := detach(ctx, w, &it); err != nil {
		return err
	}
	left, err := s.merge(ctx, w, t, dest, it.Count, it.ID, from)
	if err != nil {
		return err
	}
	if left == 0 {
		if err := w.remove(it.ID); err != nil {
			return err
		}
	} else {
		it.Count = left
		it.Container = dest
		if err := insert(ctx, w, dest, it.ID, index); err != nil {
			return err
		}
		if err := w.put(it); err != nil {
			return err
		}
		w.emit(typ, it.ID, from, domain.ContainerParent(dest), it.Count)
	}
	return s.checkCapacity(ctx, w, dest)
}

func (s *InventoryService) split(ctx context.Context, w *working, it domain.Item, dest domain.ID, index *int, count int) error {
	t, err := s.template(it)
	if err != nil {
		return err
	}
	from := it.Parent()
	it.Count -= count
	if err := w.put(it); err != nil {
		return err
	}
	left := count
	if it.Container != dest {
		if left, err = s.merge(ctx, w, t, dest, count, it.ID, from); err != nil {
			return err
		}
	}
	if left > 0 {
		part := domain.Item{ID: domain.NewID(), Template: it.Template, Type: it.Type, Count: left, Container: dest}
		w.create(part)
		if err := insert(ctx, w, dest, part.ID, index); err != nil {
			return err
		}
		w.emit(domain.EventItemSplit, part.ID, from, domain.ContainerParent(dest), left)
	}
	return s.checkCapacity(ctx, w, dest)
}

// merge tops up partial stacks of t in dest, in listing order, and returns
// the units that did not fit.
func (s *InventoryService) merge(ctx context.Context, w *working, t schema.ItemTemplate, dest domain.ID, units int, exclude domain.ID, from domain.Parent) (int, error) {
	if !t.Stackable() {
		return units, nil
	}
	c, err := get[domain.Container](ctx, w, dest)
	if err != nil {
		return 0, err
	}
	limit := t.StackLimit()
	for _, id := range c.Contents {
		if units == 0 {
			break
		}
		if id == exclude {
			continue
		}
		other, err := get[domain.Item](ctx, w, id)
		if err != nil {
			return 0, err
		}
		if other.Template != t.ID || other.Count >= limit {
			continue
		}
		add := min(limit-other.Count, units)
		other.Count += add
		if err := w.put(other); err != nil {
			return 0, err
		}
		units -= add
		w.emit(domain.EventItemStacked, other.ID, from, domain.ContainerParent(dest), add)
	}
	return units, nil
}

func insert(ctx context.Context, w *working, dest domain.ID, id domain.ID, index *int) error {
	c, err := get[domain.Container](ctx, w, dest)
	if err != nil {
		return err
	}
	c.Insert(id, index)
	return w.put(c)
}

func (s *InventoryService) moveToSlot(ctx context.Context, w *working, st MoveItemToSlot) error {
	it, err := get[domain.Item](ctx, w, st.Item)
	if err != nil {
		return err
	}
	sl, err := get[domain.Slot](ctx, w, st.Slot)
	if err != nil {
		return err
	}
	if err := expectParent(it, st.From); err != nil {
		return err
	}
	if it.Slot == sl.ID {
		return nil
	}
	return s.equip(ctx, w, it, sl, false)
}

// equip fills sl, and the rest of the item's span, with it. Occupants are
// vacated only under AutoUnequipConflicts.
func (s *InventoryService) equip(ctx context.Context, w *working, it domain.Item, sl domain.Slot, created bool) error {
	a, err := get[domain.Actor](ctx, w, sl.Actor)
	if err != nil {
		return err
	}
	t, err := s.template(it)
	if err != nil {
		return err
	}
	if it.Count > t.StackLimit() {
		return domain.NewError(domain.KindCapacityExceeded, "equip", it.ID, "a slot holds one stack of at most %d", t.StackLimit())
	}
	tags, err := s.registry.SpanFor(a.Template, t, sl.Tag)
	if err != nil {
		return err
	}
	targets := make([]domain.ID, 0, len(tags))
	for _, tag := range tags {
		sid, ok := a.SlotFor(tag)
		if !ok {
			return domain.NewError(domain.KindSlotConflict, "equip", it.ID, "actor %s has no %s slot", a.ID, tag)
		}
		if !s.registry.Accepts(tag, it.Type) {
			return domain.NewError(domain.KindSlotConflict, "equip", it.ID, "slot %s does not accept %s", tag, it.Type)
		}
		targets = append(targets, sid)
	}

	from := it.Parent()
	if !created {
		if err := detach(ctx, w, &it); err != nil {
			return err
		}
	}

	var occupants []domain.ID
	for _, sid := range targets {
		other, err := get[domain.Slot](ctx, w, sid)
		if err != nil {
			return err
		}
		if !other.Empty() && !slices.Contains(occupants, other.Item) {
			occupants = append(occupants, other.Item)
		}
	}
	if len(occupants) > 0 {
		if !w.tx.Policy.AutoUnequipConflicts {
			return domain.NewError(domain.KindSlotConflict, "equip", it.ID, "slot occupied by %s", occupants[0])
		}
		to := w.tx.Policy.UnequipTo
		if to == "" {
			to = a.RootContainer
		}
		for _, id := range occupants {
			occupant, err := get[domain.Item](ctx, w, id)
			if err != nil {
				return err
			}
			if err := s.place(ctx, w, occupant, to, nil, domain.EventItemUnequipped); err != nil {
				return err
			}
		}
	}

	for _, sid := range targets {
		target, err := get[domain.Slot](ctx, w, sid)
		if err != nil {
			return err
		}
		target.Item = it.ID
		if err := w.put(target); err != nil {
			return err
		}
	}
	it.Slot = targets[0]
	it.Spans = slices.Clone(targets[1:])
	if created {
		w.create(it)
		w.emit(domain.EventItemCreated, it.ID, domain.Parent{}, domain.SlotParent(it.Slot), it.Count)
		return nil
	}
	if err := w.put(it); err != nil {
		return err
	}
	w.emit(domain.EventItemEquipped, it.ID, from, domain.SlotParent(it.Slot), it.Count)
	return nil
}

func (s *InventoryService) unequip(ctx context.Context, w *working, st UnequipToContainer) error {
	sl, err := get[domain.Slot](ctx, w, st.Slot)
	if err != nil {
		return err
	}
	to := st.To
	if to == "" {
		a, err := get[domain.Actor](ctx, w, sl.Actor)
		if err != nil {
			return err
		}
		to = a.RootContainer
	}
	if _, err := get[domain.Container](ctx, w, to); err != nil {
		return err
	}
	if sl.Empty() {
		return domain.NewError(domain.KindStaleState, "unequip", sl.ID, "slot is empty")
	}
	it, err := get[domain.Item](ctx, w, sl.Item)
	if err != nil {
		return err
	}
	return s.place(ctx, w, it, to, nil, domain.EventItemUnequipped)
}

func (s *InventoryService) createItem(ctx context.Context, w *working, st CreateItem) error {
	t, ok := s.registry.Template(st.Template)
	if !ok {
		return domain.NewError(domain.KindNotFound, "create", "", "unknown template %q", st.Template)
	}
	count := st.Count
	if count == 0 {
		count = 1
	}
	if count < 0 || (st.ToContainer == "") == (st.ToSlot == "") {
		return domain.NewError(domain.KindStaleState, "create", "", "need a positive count and exactly one destination")
	}
	if count > MaxCreateCount {
		return domain.NewError(domain.KindStaleState, "create", "", "count %d is above the limit of %d", count, MaxCreateCount)
	}

	if st.ToSlot != "" {
		sl, err := get[domain.Slot](ctx, w, st.ToSlot)
		if err != nil {
			return err
		}
		it := s.newItem(w, t, count)
		if err := s.equip(ctx, w, it, sl, true); err != nil {
			return err
		}
		w.newItem = append(w.newItem, it.ID)
		return nil
	}

	if _, err := get[domain.Container](ctx, w, st.ToContainer); err != nil {
		return err
	}
	left, err := s.merge(ctx, w, t, st.ToContainer, count, "", domain.Parent{})
	if err != nil {
		return err
	}
	if left == 0 {
		return s.checkCapacity(ctx, w, st.ToContainer)
	}
	limit := t.StackLimit()
	stacks := (left + limit - 1) / limit
	if err := s.checkRoom(ctx, w, st.ToContainer, stacks, t.Weight.Times(left)); err != nil {
		return err
	}
	c, err := get[domain.Container](ctx, w, st.ToContainer)
	if err != nil {
		return err
	}
	for left > 0 {
		n := min(left, limit)
		it := s.newItem(w, t, n)
		it.Container = c.ID
		w.create(it)
		c.Contents = append(c.Contents, it.ID)
		w.emit(domain.EventItemCreated, it.ID, domain.Parent{}, domain.ContainerParent(c.ID), n)
		w.newItem = append(w.newItem, it.ID)
		left -= n
	}
	if err := w.put(c); err != nil {
		return err
	}
	return s.checkCapacity(ctx, w, st.ToContainer)
}

// newItem builds an unplaced item, giving containers their own inner
// container.
func (s *InventoryService) newItem(w *working, t schema.ItemTemplate, count int) domain.Item {
	it := domain.Item{ID: domain.NewID(), Template: t.ID, Type: t.Type, Count: count}
	if t.Inner != nil {
		inner := domain.Container{ID: domain.NewID(), Owner: domain.ItemParent(it.ID), Capacity: *t.Inner}
		w.create(inner)
		it.Inner = inner.ID
	}
	return it
}

func (s *InventoryService) destroyItem(ctx context.Context, w *working, st DestroyItem) error {
	it, err := get[domain.Item](ctx, w, st.Item)
	if err != nil {
		return err
	}
	if err := expectParent(it, st.From); err != nil {
		return err
	}
	from := it.Parent()
	if err := detach(ctx, w, &it); err != nil {
		return err
	}
	return s.destroyTree(ctx, w, it, from, 0)
}

func (s *InventoryService) destroyTree(ctx context.Context, w *working, it domain.Item, from domain.Parent, depth int) error {
	if depth > maxNesting {
		return domain.NewError(domain.KindCycleDetected, "destroy", it.ID, "nesting deeper than %d", maxNesting)
	}
	if it.Inner != "" {
		c, err := get[domain.Container](ctx, w, it.Inner)
		if err != nil {
			return err
		}
		for _, id := range c.Contents {
			child, err := get[domain.Item](ctx, w, id)
			if err != nil {
				return err
			}
			if err := s.destroyTree(ctx, w, child, domain.ContainerParent(c.ID), depth+1); err != nil {
				return err
			}
		}
		if err := w.remove(c.ID); err != nil {
			return err
		}
	}
	if err := w.remove(it.ID); err != nil {
		return err
	}
	w.emit(domain.EventItemDestroyed, it.ID, from, domain.Parent{}, it.Count)
	return nil
}

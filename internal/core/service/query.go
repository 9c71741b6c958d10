package service

import (
	"context"
	"slices"

	"github.com/volundmush/mudsnake/internal/core/domain"
)

const snapshotAttempts = 3

// ContainerView is a consistent listing of one container.
type ContainerView struct {
	Container domain.Container `json:"container"`
	Items     []domain.Item    `json:"items"`
	Load      Load             `json:"load"`
}

// SlotView pairs an equip slot with whatever fills it.
type SlotView struct {
	Slot domain.Slot  `json:"slot"`
	Item *domain.Item `json:"item,omitempty"`
}

type InventoryView struct {
	Actor     domain.Actor  `json:"actor"`
	Root      ContainerView `json:"root"`
	Equipment []SlotView    `json:"equipment"`
}

// Look lists a container without taking transaction locks. The container and
// its direct items come from one graph snapshot.
func (s *InventoryService) Look(ctx context.Context, containerID domain.ID) (ContainerView, error) {
	for attempt := 0; attempt < snapshotAttempts; attempt++ {
		c, err := s.graph.Container(ctx, containerID)
		if err != nil {
			return ContainerView{}, err
		}
		ids := append([]domain.ID{c.ID}, c.Contents...)
		snap, err := s.graph.Snapshot(ctx, ids)
		if domain.IsKind(err, domain.KindNotFound) {
			continue
		}
		if err != nil {
			return ContainerView{}, err
		}
		c = snap[c.ID].(domain.Container)
		if !slices.Equal(c.Contents, ids[1:]) {
			continue
		}

		view := ContainerView{Container: c, Items: make([]domain.Item, 0, len(c.Contents)), Load: Load{Count: len(c.Contents)}}
		for _, id := range c.Contents {
			it := snap[id].(domain.Item)
			w, err := s.carried(ctx, s.graph, it, 0)
			if err != nil {
				return ContainerView{}, err
			}
			view.Items = append(view.Items, it)
			view.Load.Weight += w
		}
		return view, nil
	}
	return ContainerView{}, domain.NewError(domain.KindStaleState, "look", containerID, "container kept changing")
}

// Equipment lists an actor's slots in schema order.
func (s *InventoryService) Equipment(ctx context.Context, actorID domain.ID) ([]SlotView, error) {
	a, err := s.graph.Actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	tags, ok := s.registry.SlotsFor(a.Template)
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, "equipment", actorID, "unknown actor template %q", a.Template)
	}
	ids := make([]domain.ID, 0, len(tags))
	for _, tag := range tags {
		if id, ok := a.SlotFor(tag); ok {
			ids = append(ids, id)
		}
	}
	snap, err := s.graph.Snapshot(ctx, ids)
	if err != nil {
		return nil, err
	}
	views := make([]SlotView, 0, len(ids))
	for _, id := range ids {
		sl := snap[id].(domain.Slot)
		v := SlotView{Slot: sl}
		if !sl.Empty() {
			it, err := s.graph.Item(ctx, sl.Item)
			if err != nil {
				return nil, err
			}
			v.Item = &it
		}
		views = append(views, v)
	}
	return views, nil
}

// Inventory returns an actor's root container and equipment.
func (s *InventoryService) Inventory(ctx context.Context, actorID domain.ID) (InventoryView, error) {
	a, err := s.graph.Actor(ctx, actorID)
	if err != nil {
		return InventoryView{}, err
	}
	root, err := s.Look(ctx, a.RootContainer)
	if err != nil {
		return InventoryView{}, err
	}
	eq, err := s.Equipment(ctx, actorID)
	if err != nil {
		return InventoryView{}, err
	}
	return InventoryView{Actor: a, Root: root, Equipment: eq}, nil
}

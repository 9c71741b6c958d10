package service

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/volundmush/mudsnake/internal/core/domain"
	"github.com/volundmush/mudsnake/internal/core/graph"
	"github.com/volundmush/mudsnake/internal/port"
)

// SpawnActor instantiates an actor template: the actor, its root container
// and one slot per schema tag. A nil capacity uses the schema default.
func (s *InventoryService) SpawnActor(ctx context.Context, template string, capacity *domain.Capacity) (domain.Actor, error) {
	sc, ok := s.registry.Actor(template)
	if !ok {
		return domain.Actor{}, domain.NewError(domain.KindNotFound, "spawn actor", "", "unknown actor template %q", template)
	}

	a := domain.Actor{
		ID:            domain.NewID(),
		Template:      template,
		RootContainer: domain.NewID(),
		Slots:         make(map[domain.SlotTag]domain.ID, len(sc.Slots)),
	}
	root := domain.Container{ID: a.RootContainer, Owner: domain.ActorParent(a.ID), Capacity: sc.RootCapacity}
	if capacity != nil {
		root.Capacity = *capacity
	}
	entities := []domain.Entity{root}
	for _, tag := range sc.Slots {
		sl := domain.Slot{ID: domain.NewID(), Actor: a.ID, Tag: tag}
		a.Slots[tag] = sl.ID
		entities = append(entities, sl)
	}
	entities = append(entities, a)

	if err := s.insertNew(ctx, entities); err != nil {
		return domain.Actor{}, err
	}
	s.log.WithFields(logrus.Fields{"actor": a.ID, "template": template}).Info("actor spawned")
	return a.WithVersion(1).(domain.Actor), nil
}

// CreateContainer creates a container that belongs to no bag, such as a room
// floor or loot pile. owner may be an actor or empty.
func (s *InventoryService) CreateContainer(ctx context.Context, owner domain.Parent, capacity domain.Capacity) (domain.Container, error) {
	switch owner.Kind {
	case "":
	case domain.KindActor:
		if _, err := s.graph.Actor(ctx, owner.ID); err != nil {
			return domain.Container{}, err
		}
	default:
		return domain.Container{}, domain.NewError(domain.KindStaleState, "create container", "", "containers can only be owned by actors, got %s", owner)
	}
	c := domain.Container{ID: domain.NewID(), Owner: owner, Capacity: capacity}
	if err := s.insertNew(ctx, []domain.Entity{c}); err != nil {
		return domain.Container{}, err
	}
	return c.WithVersion(1).(domain.Container), nil
}

// insertNew persists brand-new entities, then publishes them to the graph.
// Nobody else can reference them yet, so no locks are needed.
func (s *InventoryService) insertNew(ctx context.Context, entities []domain.Entity) error {
	writes := make([]port.Write, len(entities))
	changes := make([]graph.Change, len(entities))
	for i, e := range entities {
		e = e.WithVersion(1)
		writes[i] = port.Write{Op: port.WriteSave, ID: e.EntityID(), Entity: e}
		changes[i] = graph.Change{ID: e.EntityID(), Entity: e}
	}
	if err := s.persist(ctx, nil, writes); err != nil {
		if errors.Is(err, port.ErrVersionMismatch) {
			return domain.WrapError(domain.KindConflictAborted, "insert", entities[0].EntityID(), err)
		}
		return domain.WrapError(domain.KindStorageFailure, "insert", entities[0].EntityID(), err)
	}
	s.graph.Commit(changes)
	return nil
}

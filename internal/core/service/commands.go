package service

import (
	"context"

	"github.com/volundmush/mudsnake/internal/core/domain"
)

// The helpers below build the everyday player transactions. Permission
// checks belong to the caller.

func newTx(name string, actor domain.ID, touches []domain.ID, steps []Step, opts []TxOption) Transaction {
	tx := Transaction{Name: name, Actor: actor, Touches: touches, Steps: steps}
	for _, opt := range opts {
		opt(&tx)
	}
	return tx
}

// Equip moves an item into the actor's slot tagged tag.
func (s *InventoryService) Equip(ctx context.Context, actorID, itemID domain.ID, tag domain.SlotTag, opts ...TxOption) (Result, error) {
	a, err := s.graph.Actor(ctx, actorID)
	if err != nil {
		return Result{}, err
	}
	slot, ok := a.SlotFor(tag)
	if !ok {
		return Result{}, domain.NewError(domain.KindSlotConflict, "equip", actorID, "no %s slot", tag)
	}
	return s.Execute(ctx, newTx("equip", actorID, []domain.ID{itemID, slot},
		[]Step{MoveItemToSlot{Item: itemID, Slot: slot}}, opts))
}

// Unequip empties the slot tagged tag into the actor's root container.
func (s *InventoryService) Unequip(ctx context.Context, actorID domain.ID, tag domain.SlotTag, opts ...TxOption) (Result, error) {
	a, err := s.graph.Actor(ctx, actorID)
	if err != nil {
		return Result{}, err
	}
	slot, ok := a.SlotFor(tag)
	if !ok {
		return Result{}, domain.NewError(domain.KindSlotConflict, "unequip", actorID, "no %s slot", tag)
	}
	return s.Execute(ctx, newTx("unequip", actorID, []domain.ID{slot, a.RootContainer},
		[]Step{UnequipToContainer{Slot: slot, To: a.RootContainer}}, opts))
}

// Drop puts count units of an item, or all of it when count is 0, into a
// container such as the room floor.
func (s *InventoryService) Drop(ctx context.Context, actorID, itemID, floor domain.ID, count int, opts ...TxOption) (Result, error) {
	return s.Execute(ctx, newTx("drop", actorID, []domain.ID{itemID, floor},
		[]Step{MoveItemToContainer{Item: itemID, To: floor, Count: count}}, opts))
}

// Give hands an item from one actor to another's root container.
func (s *InventoryService) Give(ctx context.Context, fromActor, toActor, itemID domain.ID, count int, opts ...TxOption) (Result, error) {
	to, err := s.graph.Actor(ctx, toActor)
	if err != nil {
		return Result{}, err
	}
	return s.Execute(ctx, newTx("give", fromActor, []domain.ID{toActor, itemID, to.RootContainer},
		[]Step{MoveItemToContainer{Item: itemID, To: to.RootContainer, Count: count}}, opts))
}

// Loot takes an item out of a container the actor does not own.
func (s *InventoryService) Loot(ctx context.Context, actorID, containerID, itemID domain.ID, count int, opts ...TxOption) (Result, error) {
	a, err := s.graph.Actor(ctx, actorID)
	if err != nil {
		return Result{}, err
	}
	return s.Execute(ctx, newTx("loot", actorID, []domain.ID{containerID, itemID, a.RootContainer},
		[]Step{MoveItemToContainer{Item: itemID, From: domain.ContainerParent(containerID), To: a.RootContainer, Count: count}}, opts))
}

// Create spawns count units of template into a container.
func (s *InventoryService) Create(ctx context.Context, actorID domain.ID, template string, count int, containerID domain.ID, opts ...TxOption) (Result, error) {
	return s.Execute(ctx, newTx("create", actorID, []domain.ID{containerID},
		[]Step{CreateItem{Template: template, Count: count, ToContainer: containerID}}, opts))
}

// Destroy removes an item and anything inside it.
func (s *InventoryService) Destroy(ctx context.Context, actorID, itemID domain.ID, opts ...TxOption) (Result, error) {
	return s.Execute(ctx, newTx("destroy", actorID, []domain.ID{itemID},
		[]Step{DestroyItem{Item: itemID}}, opts))
}

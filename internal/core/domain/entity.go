package domain

import (
	"slices"

	"github.com/google/uuid"
)

// ID identifies any stored entity. IDs are compared byte-wise, which gives the
// total order used for lock acquisition.
type ID string

// NewID returns a fresh random entity id.
func NewID() ID {
	return ID(uuid.New().String())
}

func (id ID) String() string { return string(id) }

type EntityKind string

const (
	KindActor     EntityKind = "actor"
	KindContainer EntityKind = "container"
	KindSlot      EntityKind = "slot"
	KindItem      EntityKind = "item"
)

// SlotTag names an equip-slot type such as "head" or "weapon-hand".
type SlotTag string

// ItemType is the capability tag slot predicates are evaluated against.
type ItemType string

// Entity is implemented by Actor, Container, Slot and Item. Values returned by
// the graph are private copies; mutating one never affects shared state.
type Entity interface {
	EntityID() ID
	EntityKind() EntityKind
	EntityVersion() uint64
	WithVersion(v uint64) Entity
	Clone() Entity
}

// Parent points at whatever currently holds an item or owns a container.
// The zero value means "nowhere".
type Parent struct {
	Kind EntityKind `json:"kind,omitempty"`
	ID   ID         `json:"id,omitempty"`
}

func ActorParent(id ID) Parent     { return Parent{Kind: KindActor, ID: id} }
func ContainerParent(id ID) Parent { return Parent{Kind: KindContainer, ID: id} }
func SlotParent(id ID) Parent      { return Parent{Kind: KindSlot, ID: id} }
func ItemParent(id ID) Parent      { return Parent{Kind: KindItem, ID: id} }

func (p Parent) IsZero() bool { return p.ID == "" }

func (p Parent) String() string {
	if p.IsZero() {
		return "none"
	}
	return string(p.Kind) + ":" + string(p.ID)
}

// Capacity bounds a container. A zero limit means unbounded.
type Capacity struct {
	MaxCount  int    `json:"max_count" yaml:"max_count"`
	MaxWeight Weight `json:"max_weight" yaml:"max_weight"`
}

// Allows reports whether a container holding count entries of total weight
// stays within the limits.
func (c Capacity) Allows(count int, weight Weight) bool {
	if c.MaxCount > 0 && count > c.MaxCount {
		return false
	}
	if c.MaxWeight > 0 && weight > c.MaxWeight {
		return false
	}
	return true
}

// Actor owns a root container and a fixed set of equip slots.
type Actor struct {
	ID            ID             `json:"id"`
	Template      string         `json:"template"`
	RootContainer ID             `json:"root_container"`
	Slots         map[SlotTag]ID `json:"slots"`
	Version       uint64         `json:"-"`
}

func (a Actor) EntityID() ID                { return a.ID }
func (a Actor) EntityKind() EntityKind      { return KindActor }
func (a Actor) EntityVersion() uint64       { return a.Version }
func (a Actor) WithVersion(v uint64) Entity { a.Version = v; return a.Clone() }

func (a Actor) Clone() Entity {
	if a.Slots != nil {
		slots := make(map[SlotTag]ID, len(a.Slots))
		for tag, id := range a.Slots {
			slots[tag] = id
		}
		a.Slots = slots
	}
	return a
}

// SlotFor returns the actor's slot id carrying tag.
func (a Actor) SlotFor(tag SlotTag) (ID, bool) {
	id, ok := a.Slots[tag]
	return id, ok
}

// Container holds a bounded, insertion-ordered set of items.
//
// Invariant: the load of Contents never exceeds Capacity at a commit point,
// and no item id appears in more than one container.
type Container struct {
	ID       ID       `json:"id"`
	Owner    Parent   `json:"owner"`
	Capacity Capacity `json:"capacity"`
	Contents []ID     `json:"contents"`
	Version  uint64   `json:"-"`
}

func (c Container) EntityID() ID                { return c.ID }
func (c Container) EntityKind() EntityKind      { return KindContainer }
func (c Container) EntityVersion() uint64       { return c.Version }
func (c Container) WithVersion(v uint64) Entity { c.Version = v; return c.Clone() }

func (c Container) Clone() Entity {
	c.Contents = slices.Clone(c.Contents)
	return c
}

func (c Container) Contains(id ID) bool {
	return slices.Contains(c.Contents, id)
}

// Insert places id at index, or appends when index is nil or out of range.
func (c *Container) Insert(id ID, index *int) {
	if index == nil || *index < 0 || *index >= len(c.Contents) {
		c.Contents = append(c.Contents, id)
		return
	}
	c.Contents = slices.Insert(c.Contents, *index, id)
}

// Remove deletes id from the contents, reporting whether it was present.
func (c *Container) Remove(id ID) bool {
	idx := slices.Index(c.Contents, id)
	if idx < 0 {
		return false
	}
	c.Contents = slices.Delete(c.Contents, idx, idx+1)
	return true
}

// Slot is one equip attachment point of an actor.
//
// Invariant: a slot holds at most one item and that item's type satisfies the
// slot tag's predicate.
type Slot struct {
	ID      ID      `json:"id"`
	Actor   ID      `json:"actor"`
	Tag     SlotTag `json:"tag"`
	Item    ID      `json:"item,omitempty"`
	Version uint64  `json:"-"`
}

func (s Slot) EntityID() ID                { return s.ID }
func (s Slot) EntityKind() EntityKind      { return KindSlot }
func (s Slot) EntityVersion() uint64       { return s.Version }
func (s Slot) WithVersion(v uint64) Entity { s.Version = v; return s }
func (s Slot) Clone() Entity               { return s }

func (s Slot) Empty() bool { return s.Item == "" }

// Item is a single item or a stack of identical stackable items.
//
// Invariant: exactly one of Container and Slot is set once the item is
// committed. Spans lists the extra slots a multi-slot item also fills; each
// of them points back at the item.
type Item struct {
	ID        ID       `json:"id"`
	Template  string   `json:"template"`
	Type      ItemType `json:"type"`
	Count     int      `json:"count"`
	Container ID       `json:"container,omitempty"`
	Slot      ID       `json:"slot,omitempty"`
	Spans     []ID     `json:"spans,omitempty"`
	Inner     ID       `json:"inner,omitempty"`
	Version   uint64   `json:"-"`
}

func (i Item) EntityID() ID                { return i.ID }
func (i Item) EntityKind() EntityKind      { return KindItem }
func (i Item) EntityVersion() uint64       { return i.Version }
func (i Item) WithVersion(v uint64) Entity { i.Version = v; return i.Clone() }

func (i Item) Clone() Entity {
	i.Spans = slices.Clone(i.Spans)
	return i
}

// Parent returns where the item currently lives.
func (i Item) Parent() Parent {
	switch {
	case i.Container != "":
		return ContainerParent(i.Container)
	case i.Slot != "":
		return SlotParent(i.Slot)
	default:
		return Parent{}
	}
}

// Occupies returns every slot the item fills, primary slot first.
func (i Item) Occupies() []ID {
	if i.Slot == "" {
		return nil
	}
	return append([]ID{i.Slot}, i.Spans...)
}

// Validate checks the single-placement rule.
func (i Item) Validate() error {
	if (i.Container == "") == (i.Slot == "") {
		return NewError(KindStaleState, "validate item", i.ID, "item must be in exactly one container or slot")
	}
	if i.Container != "" && len(i.Spans) > 0 {
		return NewError(KindStaleState, "validate item", i.ID, "item in a container cannot span slots")
	}
	if i.Count <= 0 {
		return NewError(KindStaleState, "validate item", i.ID, "item count must be positive")
	}
	return nil
}

// Package schema holds the slot, actor and item-template definitions the
// transaction engine validates against. A Registry is built once at startup
// and is read concurrently without locks afterwards.
package schema

import (
	"errors"
	"fmt"
	"slices"

	"github.com/volundmush/mudsnake/internal/core/domain"
)

var (
	ErrUndefinedSlot     = errors.New("undefined slot tag")
	ErrDuplicate         = errors.New("duplicate definition")
	ErrInvalidDefinition = errors.New("invalid definition")
)

// Predicate decides whether a slot accepts an item type.
type Predicate func(domain.ItemType) bool

// AcceptTypes accepts exactly the listed item types.
func AcceptTypes(types ...domain.ItemType) Predicate {
	set := make(map[domain.ItemType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(t domain.ItemType) bool {
		_, ok := set[t]
		return ok
	}
}

// AcceptAny accepts every item type.
func AcceptAny() Predicate {
	return func(domain.ItemType) bool { return true }
}

// ExclusivityGroup is a set of slots a multi-slot item fills together.
type ExclusivityGroup struct {
	Name  string           `yaml:"name"`
	Slots []domain.SlotTag `yaml:"slots"`
}

func (g ExclusivityGroup) Has(tag domain.SlotTag) bool {
	return slices.Contains(g.Slots, tag)
}

// ActorSchema is the slot layout of an actor template.
type ActorSchema struct {
	Template     string
	Slots        []domain.SlotTag
	Groups       []ExclusivityGroup
	RootCapacity domain.Capacity
}

// Group returns the named exclusivity group.
func (s ActorSchema) Group(name string) (ExclusivityGroup, bool) {
	for _, g := range s.Groups {
		if g.Name == name {
			return g, true
		}
	}
	return ExclusivityGroup{}, false
}

// ItemTemplate describes an item kind. MaxStack above one makes it stackable.
// SpanGroup names the exclusivity group the item fills when equipped, and a
// non-nil Inner makes every instance carry its own container.
type ItemTemplate struct {
	ID        string
	Type      domain.ItemType
	Weight    domain.Weight
	MaxStack  int
	SpanGroup string
	Inner     *domain.Capacity
}

func (t ItemTemplate) Stackable() bool { return t.MaxStack > 1 }

// StackLimit is the most units one item entry may hold.
func (t ItemTemplate) StackLimit() int {
	if t.MaxStack < 1 {
		return 1
	}
	return t.MaxStack
}

// Builder collects definitions before they are frozen into a Registry.
// It is not safe for concurrent use.
type Builder struct {
	slotTypes map[domain.SlotTag]Predicate
	actors    map[string]ActorSchema
	templates map[string]ItemTemplate
}

func NewBuilder() *Builder {
	return &Builder{
		slotTypes: make(map[domain.SlotTag]Predicate),
		actors:    make(map[string]ActorSchema),
		templates: make(map[string]ItemTemplate),
	}
}

// DefineSlotType registers a slot tag and its acceptance predicate.
func (b *Builder) DefineSlotType(tag domain.SlotTag, accept Predicate) error {
	if tag == "" || accept == nil {
		return fmt.Errorf("slot type %q: %w", tag, ErrInvalidDefinition)
	}
	if _, ok := b.slotTypes[tag]; ok {
		return fmt.Errorf("slot type %q: %w", tag, ErrDuplicate)
	}
	b.slotTypes[tag] = accept
	return nil
}

// DefineActorSchema registers the slot layout of an actor template. Every slot
// tag, including those named by exclusivity groups, must already be defined
// and belong to the schema.
func (b *Builder) DefineActorSchema(templateID string, tags []domain.SlotTag, groups []ExclusivityGroup) error {
	if templateID == "" {
		return fmt.Errorf("actor schema: empty template: %w", ErrInvalidDefinition)
	}
	if _, ok := b.actors[templateID]; ok {
		return fmt.Errorf("actor schema %q: %w", templateID, ErrDuplicate)
	}
	seen := make(map[domain.SlotTag]struct{}, len(tags))
	for _, tag := range tags {
		if _, ok := b.slotTypes[tag]; !ok {
			return fmt.Errorf("actor schema %q: slot %q: %w", templateID, tag, ErrUndefinedSlot)
		}
		if _, dup := seen[tag]; dup {
			return fmt.Errorf("actor schema %q: slot %q: %w", templateID, tag, ErrDuplicate)
		}
		seen[tag] = struct{}{}
	}
	names := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		if g.Name == "" || len(g.Slots) < 2 {
			return fmt.Errorf("actor schema %q: group %q needs a name and two slots: %w", templateID, g.Name, ErrInvalidDefinition)
		}
		if _, dup := names[g.Name]; dup {
			return fmt.Errorf("actor schema %q: group %q: %w", templateID, g.Name, ErrDuplicate)
		}
		names[g.Name] = struct{}{}
		for _, tag := range g.Slots {
			if _, ok := seen[tag]; !ok {
				return fmt.Errorf("actor schema %q: group %q: slot %q: %w", templateID, g.Name, tag, ErrUndefinedSlot)
			}
		}
	}

	cloned := make([]ExclusivityGroup, len(groups))
	for i, g := range groups {
		cloned[i] = ExclusivityGroup{Name: g.Name, Slots: slices.Clone(g.Slots)}
	}
	b.actors[templateID] = ActorSchema{
		Template: templateID,
		Slots:    slices.Clone(tags),
		Groups:   cloned,
	}
	return nil
}

// SetRootCapacity sets the default root-container capacity of an actor template.
func (b *Builder) SetRootCapacity(templateID string, capacity domain.Capacity) error {
	s, ok := b.actors[templateID]
	if !ok {
		return fmt.Errorf("actor schema %q: %w", templateID, domain.ErrNotFound)
	}
	s.RootCapacity = capacity
	b.actors[templateID] = s
	return nil
}

// DefineItemTemplate registers an item kind.
func (b *Builder) DefineItemTemplate(t ItemTemplate) error {
	if t.ID == "" || t.Type == "" {
		return fmt.Errorf("item template %q: id and type are required: %w", t.ID, ErrInvalidDefinition)
	}
	if t.Weight < 0 || t.MaxStack < 0 {
		return fmt.Errorf("item template %q: negative weight or stack: %w", t.ID, ErrInvalidDefinition)
	}
	if t.Inner != nil && t.Stackable() {
		return fmt.Errorf("item template %q: containers cannot stack: %w", t.ID, ErrInvalidDefinition)
	}
	if t.SpanGroup != "" && t.Stackable() {
		return fmt.Errorf("item template %q: multi-slot items cannot stack: %w", t.ID, ErrInvalidDefinition)
	}
	if _, ok := b.templates[t.ID]; ok {
		return fmt.Errorf("item template %q: %w", t.ID, ErrDuplicate)
	}
	if t.Inner != nil {
		inner := *t.Inner
		t.Inner = &inner
	}
	b.templates[t.ID] = t
	return nil
}

// Build freezes the definitions. The builder must not be reused afterwards.
func (b *Builder) Build() (*Registry, error) {
	for id, t := range b.templates {
		if t.SpanGroup == "" {
			continue
		}
		found := false
		for _, a := range b.actors {
			if _, ok := a.Group(t.SpanGroup); ok {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("item template %q: span group %q is not defined by any actor schema: %w", id, t.SpanGroup, ErrInvalidDefinition)
		}
	}
	r := &Registry{
		slotTypes: b.slotTypes,
		actors:    b.actors,
		templates: b.templates,
	}
	b.slotTypes, b.actors, b.templates = nil, nil, nil
	return r, nil
}

// Registry is the immutable, concurrently readable schema set.
type Registry struct {
	slotTypes map[domain.SlotTag]Predicate
	actors    map[string]ActorSchema
	templates map[string]ItemTemplate
}

// SlotsFor lists the slot tags of an actor template.
func (r *Registry) SlotsFor(actorTemplate string) ([]domain.SlotTag, bool) {
	s, ok := r.actors[actorTemplate]
	if !ok {
		return nil, false
	}
	return slices.Clone(s.Slots), true
}

// Accepts reports whether slots tagged tag accept items of itemType.
func (r *Registry) Accepts(tag domain.SlotTag, itemType domain.ItemType) bool {
	accept, ok := r.slotTypes[tag]
	return ok && accept(itemType)
}

func (r *Registry) Actor(template string) (ActorSchema, bool) {
	s, ok := r.actors[template]
	return s, ok
}

func (r *Registry) Template(id string) (ItemTemplate, bool) {
	t, ok := r.templates[id]
	return t, ok
}

// SpanFor returns the slot tags an item of template fills when equipped into
// tag on an actor of actorTemplate. Single-slot items return just tag.
func (r *Registry) SpanFor(actorTemplate string, t ItemTemplate, tag domain.SlotTag) ([]domain.SlotTag, error) {
	if t.SpanGroup == "" {
		return []domain.SlotTag{tag}, nil
	}
	s, ok := r.actors[actorTemplate]
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, "span", "", "actor template %q", actorTemplate)
	}
	g, ok := s.Group(t.SpanGroup)
	if !ok || !g.Has(tag) {
		return nil, domain.NewError(domain.KindSlotConflict, "span", "", "template %q needs group %q which does not include slot %q", t.ID, t.SpanGroup, tag)
	}
	tags := make([]domain.SlotTag, 0, len(g.Slots))
	tags = append(tags, tag)
	for _, other := range g.Slots {
		if other != tag {
			tags = append(tags, other)
		}
	}
	return tags, nil
}

package schema

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volundmush/mudsnake/internal/core/domain"
)

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	b := NewBuilder()
	require.NoError(t, b.DefineSlotType("head", AcceptTypes("Helmet")))
	require.NoError(t, b.DefineSlotType("left-hand", AcceptTypes("Weapon", "Shield")))
	require.NoError(t, b.DefineSlotType("right-hand", AcceptTypes("Weapon")))
	return b
}

func TestDefineActorSchema_UndefinedSlot(t *testing.T) {
	b := newTestBuilder(t)

	err := b.DefineActorSchema("humanoid", []domain.SlotTag{"head", "tail"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUndefinedSlot))
}

func TestDefineActorSchema_GroupOutsideSchema(t *testing.T) {
	b := newTestBuilder(t)

	err := b.DefineActorSchema("humanoid", []domain.SlotTag{"head", "left-hand"}, []ExclusivityGroup{
		{Name: "hands", Slots: []domain.SlotTag{"left-hand", "right-hand"}},
	})
	assert.ErrorIs(t, err, ErrUndefinedSlot)
}

func TestDefineSlotType_Duplicate(t *testing.T) {
	b := newTestBuilder(t)
	assert.ErrorIs(t, b.DefineSlotType("head", AcceptAny()), ErrDuplicate)
}

func TestDefineItemTemplate_Invalid(t *testing.T) {
	b := newTestBuilder(t)

	assert.ErrorIs(t, b.DefineItemTemplate(ItemTemplate{ID: "x"}), ErrInvalidDefinition)
	assert.ErrorIs(t, b.DefineItemTemplate(ItemTemplate{
		ID: "bag", Type: "Container", MaxStack: 5, Inner: &domain.Capacity{MaxCount: 3},
	}), ErrInvalidDefinition)
}

func TestBuild_SpanGroupMustExist(t *testing.T) {
	b := newTestBuilder(t)
	require.NoError(t, b.DefineActorSchema("humanoid", []domain.SlotTag{"left-hand", "right-hand"}, nil))
	require.NoError(t, b.DefineItemTemplate(ItemTemplate{ID: "greatsword", Type: "Weapon", SpanGroup: "hands"}))

	_, err := b.Build()
	assert.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestRegistryLookups(t *testing.T) {
	b := newTestBuilder(t)
	require.NoError(t, b.DefineActorSchema("humanoid", []domain.SlotTag{"head", "left-hand", "right-hand"}, []ExclusivityGroup{
		{Name: "hands", Slots: []domain.SlotTag{"left-hand", "right-hand"}},
	}))
	require.NoError(t, b.DefineItemTemplate(ItemTemplate{ID: "greatsword", Type: "Weapon", Weight: 4000, SpanGroup: "hands"}))
	require.NoError(t, b.DefineItemTemplate(ItemTemplate{ID: "arrow", Type: "Ammunition", Weight: 20, MaxStack: 20}))

	r, err := b.Build()
	require.NoError(t, err)

	slots, ok := r.SlotsFor("humanoid")
	require.True(t, ok)
	assert.Equal(t, []domain.SlotTag{"head", "left-hand", "right-hand"}, slots)

	assert.True(t, r.Accepts("left-hand", "Shield"))
	assert.False(t, r.Accepts("right-hand", "Shield"))
	assert.False(t, r.Accepts("tail", "Weapon"))

	arrow, ok := r.Template("arrow")
	require.True(t, ok)
	assert.True(t, arrow.Stackable())
	assert.Equal(t, 20, arrow.StackLimit())

	sword, _ := r.Template("greatsword")
	span, err := r.SpanFor("humanoid", sword, "right-hand")
	require.NoError(t, err)
	assert.Equal(t, []domain.SlotTag{"right-hand", "left-hand"}, span)

	_, err = r.SpanFor("humanoid", sword, "head")
	assert.True(t, domain.IsKind(err, domain.KindSlotConflict))
}

func TestSlotsForReturnsCopy(t *testing.T) {
	b := newTestBuilder(t)
	require.NoError(t, b.DefineActorSchema("humanoid", []domain.SlotTag{"head"}, nil))
	r, err := b.Build()
	require.NoError(t, err)

	slots, _ := r.SlotsFor("humanoid")
	slots[0] = "mutated"

	again, _ := r.SlotsFor("humanoid")
	assert.Equal(t, domain.SlotTag("head"), again[0])
}

func TestLoadYAML(t *testing.T) {
	src := `
slot_types:
  - tag: head
    accepts: [Helmet]
  - tag: back
    accepts: ["*"]
actor_schemas:
  - template: humanoid
    slots: [head, back]
    root_capacity: {max_count: 10, max_weight: 5000}
item_templates:
  - id: pouch
    type: Container
    weight: 100
    inner_capacity: {max_count: 5}
`
	r, err := LoadYAML(strings.NewReader(src))
	require.NoError(t, err)

	assert.True(t, r.Accepts("back", "Anything"))
	assert.False(t, r.Accepts("head", "Weapon"))

	a, ok := r.Actor("humanoid")
	require.True(t, ok)
	assert.Equal(t, domain.Capacity{MaxCount: 10, MaxWeight: 5000}, a.RootCapacity)

	pouch, ok := r.Template("pouch")
	require.True(t, ok)
	require.NotNil(t, pouch.Inner)
	assert.Equal(t, 5, pouch.Inner.MaxCount)
}

func TestLoadYAML_UnknownField(t *testing.T) {
	_, err := LoadYAML(strings.NewReader("slot_typez: []\n"))
	assert.Error(t, err)
}

func TestLoadDefaultSchemaFile(t *testing.T) {
	if _, err := os.Stat("../../../schemas/default.yaml"); err != nil {
		t.Skipf("default schema not available: %v", err)
	}
	r, err := LoadFile("../../../schemas/default.yaml")
	require.NoError(t, err)

	tags, ok := r.SlotsFor("humanoid")
	require.True(t, ok)
	assert.Contains(t, tags, domain.SlotTag("left-hand"))
}

package service

import (
	"time"

	"github.com/volundmush/mudsnake/internal/core/domain"
)

// Step is one mutation of a transaction. The concrete step types below are
// the complete set.
type Step interface {
	StepName() string
	isStep()
}

// MoveItemToContainer moves an item, or Count units split off a stack, into a
// container. Stackable items merge into partial stacks of the same template
// already in the destination.
type MoveItemToContainer struct {
	Item  domain.ID
	From  domain.Parent // expected current parent, optional
	To    domain.ID
	Index *int
	Count int // 0 moves the whole item
}

// MoveItemToSlot equips an item into an actor slot.
type MoveItemToSlot struct {
	Item domain.ID
	From domain.Parent
	Slot domain.ID
}

// UnequipToContainer empties a slot into a container. An empty To means the
// owning actor's root container.
type UnequipToContainer struct {
	Slot domain.ID
	To   domain.ID
}

// MaxCreateCount caps the units a single CreateItem may instantiate.
const MaxCreateCount = 10_000

// CreateItem instantiates Count units of a template into exactly one of
// ToContainer or ToSlot.
type CreateItem struct {
	Template    string
	Count       int
	ToContainer domain.ID
	ToSlot      domain.ID
}

// DestroyItem removes an item, and anything inside it, from the graph and
// the store.
type DestroyItem struct {
	Item domain.ID
	From domain.Parent
}

func (MoveItemToContainer) StepName() string { return "MoveItemToContainer" }
func (MoveItemToSlot) StepName() string      { return "MoveItemToSlot" }
func (UnequipToContainer) StepName() string  { return "UnequipToContainer" }
func (CreateItem) StepName() string          { return "CreateItem" }
func (DestroyItem) StepName() string         { return "DestroyItem" }

func (MoveItemToContainer) isStep() {}
func (MoveItemToSlot) isStep()      {}
func (UnequipToContainer) isStep()  {}
func (CreateItem) isStep()          {}
func (DestroyItem) isStep()         {}

// Policy tunes how a transaction resolves conflicts.
type Policy struct {
	// AutoUnequipConflicts lets an equip vacate occupied slots instead of
	// failing with SlotConflict.
	AutoUnequipConflicts bool
	// UnequipTo receives vacated items; defaults to the actor's root container.
	UnequipTo   domain.ID
	LockTimeout time.Duration
}

// Transaction is a named, all-or-nothing batch of steps. Touches declares the
// entities the caller knows it will touch; the engine adds whatever else the
// steps reach before taking locks.
type Transaction struct {
	ID        domain.ID
	RequestID string
	Name      string
	Actor     domain.ID
	Touches   []domain.ID
	Steps     []Step
	Policy    Policy
}

// Result describes a committed transaction.
type Result struct {
	TxID    domain.ID
	Created []domain.ID
	Events  []domain.Event
}

// TxOption adjusts transactions built by the convenience operations.
type TxOption func(*Transaction)

func WithRequestID(id string) TxOption {
	return func(tx *Transaction) { tx.RequestID = id }
}

func WithAutoUnequip() TxOption {
	return func(tx *Transaction) { tx.Policy.AutoUnequipConflicts = true }
}

func WithUnequipTo(container domain.ID) TxOption {
	return func(tx *Transaction) { tx.Policy.UnequipTo = container }
}

func WithLockTimeout(d time.Duration) TxOption {
	return func(tx *Transaction) { tx.Policy.LockTimeout = d }
}

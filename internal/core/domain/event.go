package domain

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// EventType identifies the kind of change an event reports.
type EventType string

const (
	EventItemCreated       EventType = "ItemCreated"
	EventItemMoved         EventType = "ItemMoved"
	EventItemEquipped      EventType = "ItemEquipped"
	EventItemUnequipped    EventType = "ItemUnequipped"
	EventItemStacked       EventType = "ItemStacked"
	EventItemSplit         EventType = "ItemSplit"
	EventItemDestroyed     EventType = "ItemDestroyed"
	EventTransactionFailed EventType = "TransactionFailed"
)

// Event is an immutable record of one logical change, published after the
// transaction that produced it has been persisted.
type Event struct {
	ID         ulid.ULID `json:"id"`
	Type       EventType `json:"type"`
	TxID       ID        `json:"tx_id"`
	TxName     string    `json:"tx_name,omitempty"`
	ActorID    ID        `json:"actor_id,omitempty"`
	ItemID     ID        `json:"item_id,omitempty"`
	FromParent Parent    `json:"from_parent"`
	ToParent   Parent    `json:"to_parent"`
	Count      int       `json:"count,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

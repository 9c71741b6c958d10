package port

import (
	"context"
	"errors"

	"github.com/volundmush/mudsnake/internal/core/domain"
)

// ErrVersionMismatch is returned when the stored version token differs from
// the one the caller expected.
var ErrVersionMismatch = errors.New("version mismatch")

// ObjectStore is durable storage for entities keyed by id. Version tokens
// start at 1 on create and grow by one on every save; an expected version of
// 0 means "must not exist yet". A missing id on Load wraps domain.ErrNotFound.
type ObjectStore interface {
	Load(ctx context.Context, id domain.ID) (domain.Entity, uint64, error)
	Save(ctx context.Context, e domain.Entity, expected uint64) error
	Delete(ctx context.Context, id domain.ID, expected uint64) error
}

type WriteOp int

const (
	WriteSave WriteOp = iota
	WriteDelete
)

// Write is one entry of an atomic batch.
type Write struct {
	Op       WriteOp
	ID       domain.ID
	Entity   domain.Entity
	Expected uint64
}

// BatchStore applies every write or none of them. A version mismatch on any
// entry fails the whole batch with ErrVersionMismatch.
type BatchStore interface {
	ObjectStore
	Apply(ctx context.Context, writes []Write) error
}

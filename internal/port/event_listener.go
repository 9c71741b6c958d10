package port

import (
	"context"

	"github.com/volundmush/mudsnake/internal/core/domain"
)

// EventListener receives committed events. Returned errors are logged by the
// emitter and never undo the transaction.
type EventListener interface {
	HandleEvent(ctx context.Context, ev domain.Event) error
}

type EventListenerFunc func(ctx context.Context, ev domain.Event) error

func (f EventListenerFunc) HandleEvent(ctx context.Context, ev domain.Event) error {
	return f(ctx, ev)
}

package notify

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/volundmush/mudsnake/internal/core/domain"
)

// LogListener writes every event to the log, failures at warn level.
type LogListener struct {
	log logrus.FieldLogger
}

func NewLogListener(log logrus.FieldLogger) *LogListener {
	return &LogListener{log: log}
}

func (l *LogListener) HandleEvent(_ context.Context, ev domain.Event) error {
	entry := l.log.WithFields(logrus.Fields{
		"event": ev.Type,
		"tx":    ev.TxID,
		"actor": ev.ActorID,
		"item":  ev.ItemID,
		"from":  ev.FromParent.String(),
		"to":    ev.ToParent.String(),
		"count": ev.Count,
	})
	if ev.Type == domain.EventTransactionFailed {
		entry.WithField("error", ev.Error).Warn("transaction failed")
		return nil
	}
	entry.Info("inventory event")
	return nil
}

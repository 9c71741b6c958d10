package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/volundmush/mudsnake/internal/core/domain"
)

// ExecuteWithRetry repeats tx while it fails with LockTimeout or
// ConflictAborted, backing off between attempts. Every attempt re-reads the
// graph, so a retry either commits or fails on current state.
func (s *InventoryService) ExecuteWithRetry(ctx context.Context, tx Transaction, maxTries uint) (Result, error) {
	if tx.ID == "" {
		tx.ID = domain.NewID()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond

	// The last engine error keeps its kind even when the context ends
	// between attempts.
	var last error
	res, err := backoff.Retry(ctx, func() (Result, error) {
		res, err := s.Execute(ctx, tx)
		last = err
		if err != nil && !domain.IsRetryable(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.log.WithError(err).WithField("tx", tx.ID).WithField("backoff", next).Debug("retrying transaction")
		}),
	)
	if err != nil && last != nil {
		err = last
	}
	return res, err
}

// Submit runs tx with the retry budget set by WithMaxTries.
func (s *InventoryService) Submit(ctx context.Context, tx Transaction) (Result, error) {
	if s.maxTries <= 1 {
		return s.Execute(ctx, tx)
	}
	return s.ExecuteWithRetry(ctx, tx, s.maxTries)
}

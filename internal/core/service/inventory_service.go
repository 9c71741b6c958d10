package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/volundmush/mudsnake/internal/core/domain"
	"github.com/volundmush/mudsnake/internal/core/graph"
	"github.com/volundmush/mudsnake/internal/core/lock"
	"github.com/volundmush/mudsnake/internal/core/schema"
	"github.com/volundmush/mudsnake/internal/port"
)

const (
	tracerName = "github.com/volundmush/mudsnake/internal/core/service"

	defaultLockTimeout = 2 * time.Second
	maxReplans         = 3
)

// Deps are the collaborators of an InventoryService. Idempotency and Emitter
// are optional; without an emitter the service creates and owns one.
type Deps struct {
	Registry    *schema.Registry
	Store       port.ObjectStore
	Idempotency port.IdempotencyStore
	Emitter     *Emitter
	Logger      logrus.FieldLogger
}

type Option func(*InventoryService)

// WithDefaultLockTimeout bounds lock waits for transactions that set none.
func WithDefaultLockTimeout(d time.Duration) Option {
	return func(s *InventoryService) { s.lockTimeout = d }
}

// WithCacheSize bounds the number of entities the graph keeps in memory.
func WithCacheSize(n int) Option {
	return func(s *InventoryService) { s.cacheSize = n }
}

// WithMaxTries sets how many attempts Submit makes on retryable failures.
func WithMaxTries(n uint) Option {
	return func(s *InventoryService) { s.maxTries = n }
}

// InventoryService is the transaction engine. It is safe for concurrent use;
// transactions on disjoint entities run in parallel.
type InventoryService struct {
	registry *schema.Registry
	store    port.ObjectStore
	graph    *graph.Graph
	locks    *lock.Manager
	idem     port.IdempotencyStore
	events   *Emitter
	ownsEmit bool
	log      logrus.FieldLogger
	tracer   trace.Tracer

	lockTimeout time.Duration
	maxTries    uint
	cacheSize   int
}

func NewInventoryService(d Deps, opts ...Option) *InventoryService {
	log := d.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &InventoryService{
		registry:    d.Registry,
		store:       d.Store,
		locks:       lock.NewManager(),
		idem:        d.Idempotency,
		events:      d.Emitter,
		log:         log,
		tracer:      otel.Tracer(tracerName),
		lockTimeout: defaultLockTimeout,
		maxTries:    1,
		cacheSize:   graph.DefaultCacheSize,
	}
	if s.events == nil {
		s.events = NewEmitter(log, 1024)
		s.ownsEmit = true
	}
	for _, opt := range opts {
		opt(s)
	}
	s.graph = graph.New(d.Store, log, graph.WithCacheSize(s.cacheSize))
	return s
}

func (s *InventoryService) Registry() *schema.Registry { return s.registry }
func (s *InventoryService) Events() *Emitter           { return s.events }

// Close stops the emitter if the service created it.
func (s *InventoryService) Close() {
	if s.ownsEmit {
		s.events.Close()
	}
}

// Execute runs tx to completion. Every returned error carries one of the
// domain kinds; on error nothing was applied.
func (s *InventoryService) Execute(ctx context.Context, tx Transaction) (Result, error) {
	if tx.ID == "" {
		tx.ID = domain.NewID()
	}
	ctx, span := s.tracer.Start(ctx, "inventory.Execute", trace.WithAttributes(
		attribute.String("tx.id", string(tx.ID)),
		attribute.String("tx.name", tx.Name),
		attribute.Int("tx.steps", len(tx.Steps)),
	))
	defer span.End()

	log := s.log.WithFields(logrus.Fields{"tx": tx.ID, "tx_name": tx.Name, "actor": tx.Actor})
	start := time.Now()

	res, err := s.execute(ctx, &tx, log)
	if err != nil {
		kind := domain.KindOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		entry := log.WithError(err).WithField("kind", kind)
		if domain.IsRetryable(err) {
			entry.Warn("transaction aborted")
		} else {
			entry.Info("transaction rejected")
		}
		s.events.Publish([]domain.Event{{
			Type:    domain.EventTransactionFailed,
			TxID:    tx.ID,
			TxName:  tx.Name,
			ActorID: tx.Actor,
			Error:   fmt.Sprintf("%s: %v", kind, err),
		}})
		return Result{TxID: tx.ID}, err
	}
	log.WithField("elapsed", time.Since(start)).Debug("transaction committed")
	return res, nil
}

func (s *InventoryService) execute(ctx context.Context, tx *Transaction, log logrus.FieldLogger) (Result, error) {
	if len(tx.Steps) == 0 {
		return Result{}, domain.NewError(domain.KindStaleState, "execute", tx.ID, "transaction has no steps")
	}
	if err := ctx.Err(); err != nil {
		return Result{}, domain.WrapError(domain.KindLockTimeout, "execute", tx.ID, err)
	}

	committed := false
	if tx.RequestID != "" && s.idem != nil {
		key := "tx:" + tx.RequestID
		ok, err := s.idem.Reserve(ctx, key)
		if err != nil {
			return Result{}, domain.WrapError(domain.KindStorageFailure, "reserve request", tx.ID, err)
		}
		if !ok {
			return Result{}, domain.WrapError(domain.KindStaleState, "reserve request", tx.ID, domain.ErrDuplicateRequest)
		}
		defer func() {
			if committed {
				return
			}
			if err := s.idem.Release(context.WithoutCancel(ctx), key); err != nil {
				log.WithError(err).Error("failed to release request id")
			}
		}()
	}

	guard, err := s.acquire(ctx, tx, log)
	if err != nil {
		return Result{}, err
	}
	defer guard.Release()

	// Once every lock is held the transaction runs to commit or abort.
	ctx = context.WithoutCancel(ctx)

	w := newWorking(s.graph, guard, tx)
	for i, step := range tx.Steps {
		if err := s.apply(ctx, w, step); err != nil {
			log.WithError(err).WithField("step", i).Debugf("%s failed", step.StepName())
			return Result{}, err
		}
	}
	if err := s.commit(ctx, tx, w); err != nil {
		return Result{}, err
	}
	committed = true

	// Published before the locks drop so listeners see lock order.
	events := s.events.Publish(w.events)
	return Result{TxID: tx.ID, Created: w.newItem, Events: events}, nil
}

// acquire plans the lock set, takes it and re-plans under the locks. A plan
// that grew while waiting is retaken with the union.
func (s *InventoryService) acquire(ctx context.Context, tx *Transaction, log logrus.FieldLogger) (*lock.Guard, error) {
	timeout := tx.Policy.LockTimeout
	if timeout <= 0 {
		timeout = s.lockTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ids, err := s.plan(ctx, tx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, domain.WrapError(domain.KindLockTimeout, "acquire", tx.ID, ctxErr)
		}
		return nil, err
	}
	for attempt := 0; ; attempt++ {
		guard, err := s.locks.Acquire(ctx, ids)
		if err != nil {
			return nil, err
		}
		again, err := s.plan(context.WithoutCancel(ctx), tx)
		if err != nil {
			guard.Release()
			return nil, err
		}
		if guard.Covers(again) {
			log.WithField("locks", len(ids)).Debug("locks acquired")
			return guard, nil
		}
		guard.Release()
		if attempt+1 >= maxReplans {
			return nil, domain.NewError(domain.KindStaleState, "acquire", tx.ID, "entities kept moving while locking")
		}
		ids = lock.Order(append(ids, again...))
	}
}

// commit persists the overlay and only then publishes it to the graph, so
// no other transaction or reader ever sees state that may still roll back. A
// failed persist leaves the graph untouched; a version race or compensated
// partial write drops the affected cache entries so a retry reloads them.
func (s *InventoryService) commit(ctx context.Context, tx *Transaction, w *working) error {
	changes, writes := w.changes()
	if len(changes) == 0 {
		return nil
	}
	if err := s.graph.Check(ctx, changes); err != nil {
		return err
	}
	s.graph.Begin(changes)
	if err := s.persist(ctx, w.base, writes); err != nil {
		s.graph.Abort(changes)
		ids := make([]domain.ID, len(changes))
		for i, c := range changes {
			ids[i] = c.ID
		}
		if errors.Is(err, port.ErrVersionMismatch) {
			s.graph.Evict(ids...)
			return domain.WrapError(domain.KindConflictAborted, "commit", tx.ID, err)
		}
		if errors.Is(err, errCompensated) {
			s.graph.Evict(ids...)
		}
		return domain.WrapError(domain.KindStorageFailure, "commit", tx.ID, err)
	}
	s.graph.Commit(changes)
	return nil
}

var errCompensated = errors.New("partial write compensated")

func (s *InventoryService) persist(ctx context.Context, base map[domain.ID]domain.Entity, writes []port.Write) error {
	if batch, ok := s.store.(port.BatchStore); ok {
		if err := batch.Apply(ctx, writes); err != nil {
			return oops.In("persist").With("writes", len(writes)).Wrapf(err, "apply batch")
		}
		return nil
	}
	for i, wr := range writes {
		var err error
		if wr.Op == port.WriteDelete {
			err = s.store.Delete(ctx, wr.ID, wr.Expected)
		} else {
			err = s.store.Save(ctx, wr.Entity, wr.Expected)
		}
		if err != nil {
			if i > 0 {
				s.compensate(ctx, base, writes[:i])
				err = errors.Join(err, errCompensated)
			}
			return oops.In("persist").With("entity", wr.ID).Wrapf(err, "write %d of %d", i+1, len(writes))
		}
	}
	return nil
}

// compensate undoes writes that reached a store without batch support. base
// holds the entities as they were before the transaction.
func (s *InventoryService) compensate(ctx context.Context, base map[domain.ID]domain.Entity, done []port.Write) {
	for i := len(done) - 1; i >= 0; i-- {
		wr := done[i]
		prev, existed := base[wr.ID]
		var err error
		switch {
		case wr.Op == port.WriteDelete:
			err = s.store.Save(ctx, prev, 0)
		case !existed:
			err = s.store.Delete(ctx, wr.ID, wr.Expected+1)
		default:
			err = s.store.Save(ctx, prev, wr.Expected+1)
		}
		if err != nil {
			s.log.WithError(err).WithField("entity", wr.ID).Error("compensating write failed")
		}
	}
}

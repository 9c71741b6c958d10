package service

import (
	"context"
	"crypto/rand"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/volundmush/mudsnake/internal/core/domain"
	"github.com/volundmush/mudsnake/internal/port"
)

const (
	DefaultDeliveryTimeout = 5 * time.Second
	deliveryGrace          = 100 * time.Millisecond
)

// Emitter delivers committed events to listeners from a single worker, so
// listeners observe batches in publish order. A failing or panicking listener
// is logged and skipped, and one that outlives its deadline is abandoned.
type Emitter struct {
	log     logrus.FieldLogger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan []domain.Event
	done   chan struct{}

	lmu       sync.RWMutex
	listeners []port.EventListener

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

type EmitterOption func(*Emitter)

// WithDeliveryTimeout bounds how long one listener may take per event.
func WithDeliveryTimeout(d time.Duration) EmitterOption {
	return func(e *Emitter) { e.timeout = d }
}

func NewEmitter(log logrus.FieldLogger, queueSize int, opts ...EmitterOption) *Emitter {
	e := &Emitter{
		log:     log,
		timeout: DefaultDeliveryTimeout,
		queue:   make(chan []domain.Event, queueSize),
		done:    make(chan struct{}),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	for _, opt := range opts {
		opt(e)
	}
	go e.workerLoop()
	return e
}

// Subscribe registers l; listeners are called in registration order.
func (e *Emitter) Subscribe(l port.EventListener) {
	e.lmu.Lock()
	defer e.lmu.Unlock()
	e.listeners = append(e.listeners, l)
}

// Publish stamps ids and timestamps on events and queues them. It never
// blocks: when the queue is full the batch is logged and dropped. The stamped
// events are returned either way.
func (e *Emitter) Publish(events []domain.Event) []domain.Event {
	if len(events) == 0 {
		return nil
	}
	stamped := e.stamp(events)

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.log.WithField("events", len(stamped)).Warn("emitter closed, dropping events")
		return stamped
	}
	select {
	case e.queue <- stamped:
	default:
		e.log.WithFields(logrus.Fields{"events": len(stamped), "tx": stamped[0].TxID}).Error("event queue full, dropping events")
	}
	return stamped
}

func (e *Emitter) stamp(events []domain.Event) []domain.Event {
	out := slices.Clone(events)
	now := time.Now().UTC()

	e.idMu.Lock()
	defer e.idMu.Unlock()
	for i := range out {
		id, err := ulid.New(ulid.Timestamp(now), e.entropy)
		if err != nil {
			id = ulid.Make()
		}
		out[i].ID = id
		out[i].Timestamp = now
	}
	return out
}

// Close stops accepting events and waits until queued ones are delivered.
func (e *Emitter) Close() {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()
	<-e.done
}

func (e *Emitter) workerLoop() {
	defer close(e.done)
	for batch := range e.queue {
		e.lmu.RLock()
		listeners := slices.Clone(e.listeners)
		e.lmu.RUnlock()

		for _, ev := range batch {
			for _, l := range listeners {
				e.deliver(l, ev)
			}
		}
	}
}

func (e *Emitter) deliver(l port.EventListener, ev domain.Event) {
	log := e.log.WithFields(logrus.Fields{"event": ev.Type, "tx": ev.TxID, "item": ev.ItemID})

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.WithField("panic", r).Error("event listener panicked")
				result <- nil
			}
		}()
		result <- l.HandleEvent(ctx, ev)
	}()

	timer := time.NewTimer(e.timeout + deliveryGrace)
	defer timer.Stop()
	select {
	case err := <-result:
		if err != nil {
			log.WithError(err).Error("event listener failed")
		}
	case <-timer.C:
		log.WithField("timeout", e.timeout).Error("event listener timed out, skipping")
	}
}

// Package graph keeps the in-memory entity graph in front of the object store.
//
// Entities are immutable values: readers always receive private copies, and
// Commit swaps a whole batch under one short write lock, so a reader never
// observes half of a transaction. Only persisted state is ever committed, so
// any cached entity may be evicted and reloaded.
package graph

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/volundmush/mudsnake/internal/core/domain"
	"github.com/volundmush/mudsnake/internal/port"
)

// maxDepth bounds ancestor walks; deeper nesting is treated as a cycle.
const maxDepth = 64

const (
	DefaultCacheSize   = 100_000
	DefaultLoadTimeout = 5 * time.Second

	snapshotAttempts = 3
)

// Change is one entity replacement or removal.
type Change struct {
	ID      domain.ID
	Entity  domain.Entity
	Deleted bool
}

// mark records the commit that last touched an id while loads were running.
type mark struct {
	seq     uint64
	deleted bool
}

type Graph struct {
	store       port.ObjectStore
	log         logrus.FieldLogger
	loadTimeout time.Duration

	mu       sync.Mutex
	entities *simplelru.LRU[domain.ID, domain.Entity]
	seq      uint64
	loading  map[uint64]int
	marks    map[domain.ID]mark
	pending  map[domain.ID]int

	loads singleflight.Group
}

type Option func(*Graph)

// WithCacheSize bounds the number of cached entities.
func WithCacheSize(n int) Option {
	return func(g *Graph) {
		if n > 0 {
			g.entities, _ = simplelru.NewLRU[domain.ID, domain.Entity](n, nil)
		}
	}
}

// WithLoadTimeout bounds a single store load.
func WithLoadTimeout(d time.Duration) Option {
	return func(g *Graph) { g.loadTimeout = d }
}

func New(store port.ObjectStore, log logrus.FieldLogger, opts ...Option) *Graph {
	entities, _ := simplelru.NewLRU[domain.ID, domain.Entity](DefaultCacheSize, nil)
	g := &Graph{
		store:       store,
		log:         log,
		loadTimeout: DefaultLoadTimeout,
		entities:    entities,
		loading:     make(map[uint64]int),
		marks:       make(map[domain.ID]mark),
		pending:     make(map[domain.ID]int),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Get returns a copy of the entity, loading it from the store on a miss.
// Concurrent misses for the same id share a single load, which is detached
// from any one caller's cancellation.
func (g *Graph) Get(ctx context.Context, id domain.ID) (domain.Entity, error) {
	if id == "" {
		return nil, domain.NewError(domain.KindNotFound, "get", id, "empty id")
	}
	g.mu.Lock()
	e, ok := g.entities.Get(id)
	g.mu.Unlock()
	if ok {
		return e.Clone(), nil
	}

	ch := g.loads.DoChan(string(id), func() (any, error) {
		return g.load(context.WithoutCancel(ctx), id)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(domain.Entity).Clone(), nil
	case <-ctx.Done():
		return nil, domain.WrapError(domain.KindStorageFailure, "load", id, ctx.Err())
	}
}

// load reads id from the store. A commit that lands while the read is in
// flight wins: a deleted entity stays gone and an updated one is read again.
func (g *Graph) load(ctx context.Context, id domain.ID) (domain.Entity, error) {
	for attempt := 0; ; attempt++ {
		g.mu.Lock()
		start := g.seq
		g.loading[start]++
		g.mu.Unlock()

		lctx, cancel := context.WithTimeout(ctx, g.loadTimeout)
		loaded, version, err := g.store.Load(lctx, id)
		cancel()

		g.mu.Lock()
		if err != nil {
			g.finishLoad(start)
			g.mu.Unlock()
			if errors.Is(err, domain.ErrNotFound) {
				return nil, domain.WrapError(domain.KindNotFound, "get", id, err)
			}
			return nil, domain.WrapError(domain.KindStorageFailure, "load", id, err)
		}
		loaded = loaded.WithVersion(version)
		if existing, ok := g.entities.Get(id); ok {
			g.finishLoad(start)
			g.mu.Unlock()
			return existing, nil
		}
		m, touched := g.marks[id]
		stale := touched && m.seq > start
		if !stale && g.pending[id] == 0 {
			g.entities.Add(id, loaded)
		}
		g.finishLoad(start)
		g.mu.Unlock()

		switch {
		case !stale:
			g.log.WithField("entity", id).Debug("entity loaded")
			return loaded, nil
		case m.deleted:
			return nil, domain.NewError(domain.KindNotFound, "get", id, "destroyed")
		case attempt+1 >= snapshotAttempts:
			return loaded, nil
		}
	}
}

// finishLoad forgets an in-flight load and drops marks no load can need.
// Callers hold g.mu.
func (g *Graph) finishLoad(start uint64) {
	if g.loading[start]--; g.loading[start] <= 0 {
		delete(g.loading, start)
	}
	g.pruneMarks()
}

func (g *Graph) pruneMarks() {
	if len(g.marks) == 0 {
		return
	}
	if len(g.loading) == 0 {
		clear(g.marks)
		return
	}
	oldest := g.seq
	for s := range g.loading {
		oldest = min(oldest, s)
	}
	for id, m := range g.marks {
		if m.seq <= oldest {
			delete(g.marks, id)
		}
	}
}

// Len reports the number of cached entities.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.entities.Len()
}

func (g *Graph) Item(ctx context.Context, id domain.ID) (domain.Item, error) {
	e, err := g.Get(ctx, id)
	if err != nil {
		return domain.Item{}, err
	}
	it, ok := e.(domain.Item)
	if !ok {
		return domain.Item{}, domain.NewError(domain.KindNotFound, "get item", id, "entity is a %s", e.EntityKind())
	}
	return it, nil
}

func (g *Graph) Container(ctx context.Context, id domain.ID) (domain.Container, error) {
	e, err := g.Get(ctx, id)
	if err != nil {
		return domain.Container{}, err
	}
	c, ok := e.(domain.Container)
	if !ok {
		return domain.Container{}, domain.NewError(domain.KindNotFound, "get container", id, "entity is a %s", e.EntityKind())
	}
	return c, nil
}

func (g *Graph) Slot(ctx context.Context, id domain.ID) (domain.Slot, error) {
	e, err := g.Get(ctx, id)
	if err != nil {
		return domain.Slot{}, err
	}
	s, ok := e.(domain.Slot)
	if !ok {
		return domain.Slot{}, domain.NewError(domain.KindNotFound, "get slot", id, "entity is a %s", e.EntityKind())
	}
	return s, nil
}

func (g *Graph) Actor(ctx context.Context, id domain.ID) (domain.Actor, error) {
	e, err := g.Get(ctx, id)
	if err != nil {
		return domain.Actor{}, err
	}
	a, ok := e.(domain.Actor)
	if !ok {
		return domain.Actor{}, domain.NewError(domain.KindNotFound, "get actor", id, "entity is a %s", e.EntityKind())
	}
	return a, nil
}

// Children lists the item ids held by a container in insertion order.
func (g *Graph) Children(ctx context.Context, containerID domain.ID) ([]domain.ID, error) {
	c, err := g.Container(ctx, containerID)
	if err != nil {
		return nil, err
	}
	return c.Contents, nil
}

// ParentOf returns the container or slot currently holding an item.
func (g *Graph) ParentOf(ctx context.Context, itemID domain.ID) (domain.Parent, error) {
	it, err := g.Item(ctx, itemID)
	if err != nil {
		return domain.Parent{}, err
	}
	return it.Parent(), nil
}

// Ancestors walks up from a container and returns every entity on the way to
// the owning actor or an unowned root: bag items, their containers and any
// slot a bag is equipped in. The actor itself is returned last when reached.
func (g *Graph) Ancestors(ctx context.Context, containerID domain.ID) ([]domain.ID, error) {
	var chain []domain.ID
	seen := map[domain.ID]struct{}{containerID: {}}
	cur := containerID
	for depth := 0; depth < maxDepth; depth++ {
		next, err := g.parentStep(ctx, cur)
		if err != nil {
			return nil, err
		}
		if next.IsZero() {
			return chain, nil
		}
		if _, dup := seen[next.ID]; dup {
			return nil, domain.NewError(domain.KindCycleDetected, "ancestors", containerID, "ownership loops through %s", next.ID)
		}
		seen[next.ID] = struct{}{}
		chain = append(chain, next.ID)
		if next.Kind == domain.KindActor {
			return chain, nil
		}
		cur = next.ID
	}
	return nil, domain.NewError(domain.KindCycleDetected, "ancestors", containerID, "nesting deeper than %d", maxDepth)
}

func (g *Graph) parentStep(ctx context.Context, id domain.ID) (domain.Parent, error) {
	e, err := g.Get(ctx, id)
	if err != nil {
		return domain.Parent{}, err
	}
	return parentOfEntity(e), nil
}

func parentOfEntity(e domain.Entity) domain.Parent {
	switch v := e.(type) {
	case domain.Container:
		return v.Owner
	case domain.Item:
		return v.Parent()
	case domain.Slot:
		return domain.ActorParent(v.Actor)
	default:
		return domain.Parent{}
	}
}

// Snapshot returns a mutually consistent copy of the given entities. When
// the set does not fit in the cache, the copies are read while no commit
// lands instead.
func (g *Graph) Snapshot(ctx context.Context, ids []domain.ID) (map[domain.ID]domain.Entity, error) {
	for attempt := 0; attempt < snapshotAttempts; attempt++ {
		g.mu.Lock()
		seq := g.seq
		g.mu.Unlock()

		read := make(map[domain.ID]domain.Entity, len(ids))
		for _, id := range ids {
			e, err := g.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			read[id] = e
		}
		if out, ok := g.cached(ids); ok {
			return out, nil
		}
		g.mu.Lock()
		quiet := g.seq == seq && !g.anyPending(ids)
		g.mu.Unlock()
		if quiet {
			return read, nil
		}
	}
	return nil, domain.NewError(domain.KindStaleState, "snapshot", "", "entities kept changing")
}

func (g *Graph) anyPending(ids []domain.ID) bool {
	for _, id := range ids {
		if g.pending[id] > 0 {
			return true
		}
	}
	return false
}

func (g *Graph) cached(ids []domain.ID) (map[domain.ID]domain.Entity, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[domain.ID]domain.Entity, len(ids))
	for _, id := range ids {
		e, ok := g.entities.Peek(id)
		if !ok {
			return nil, false
		}
		out[id] = e.Clone()
	}
	return out, true
}

// Check refuses a batch whose re-parenting would make an entity its own
// ancestor. It runs before the batch is persisted.
func (g *Graph) Check(ctx context.Context, changes []Change) error {
	view := make(map[domain.ID]domain.Entity, len(changes))
	removed := make(map[domain.ID]struct{})
	for _, c := range changes {
		if c.Deleted {
			removed[c.ID] = struct{}{}
			continue
		}
		view[c.ID] = c.Entity
	}
	var loadErr error
	lookup := func(id domain.ID) (domain.Entity, bool) {
		if _, ok := removed[id]; ok {
			return nil, false
		}
		if e, ok := view[id]; ok {
			return e, true
		}
		e, err := g.Get(ctx, id)
		if err != nil {
			if !domain.IsKind(err, domain.KindNotFound) {
				loadErr = err
			}
			return nil, false
		}
		return e, true
	}
	for _, c := range changes {
		if c.Deleted {
			continue
		}
		if err := checkAcyclic(c.ID, lookup); err != nil {
			return err
		}
		if loadErr != nil {
			return loadErr
		}
	}
	return nil
}

// Begin flags a batch as being written to the store. Until Commit or Abort,
// loads of its ids are not cached and snapshots over them retry.
func (g *Graph) Begin(changes []Change) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range changes {
		g.pending[c.ID]++
	}
}

// Commit publishes a persisted batch to readers in one step.
func (g *Graph) Commit(changes []Change) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	for _, c := range changes {
		g.settle(c.ID, c.Deleted)
		if c.Deleted {
			g.entities.Remove(c.ID)
			continue
		}
		g.entities.Add(c.ID, c.Entity.Clone())
	}
}

// Abort ends a batch that failed to persist. The cache keeps its entries;
// loads that overlapped the failed write read again.
func (g *Graph) Abort(changes []Change) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	for _, c := range changes {
		g.settle(c.ID, false)
	}
}

// settle clears a pending flag and marks the id for loads still running.
// Callers hold g.mu.
func (g *Graph) settle(id domain.ID, deleted bool) {
	if n := g.pending[id]; n > 1 {
		g.pending[id] = n - 1
	} else {
		delete(g.pending, id)
	}
	if len(g.loading) > 0 {
		g.marks[id] = mark{seq: g.seq, deleted: deleted}
	}
}

// Evict drops cached copies so the next read reloads from the store.
func (g *Graph) Evict(ids ...domain.ID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range ids {
		g.entities.Remove(id)
	}
}

func checkAcyclic(start domain.ID, lookup func(domain.ID) (domain.Entity, bool)) error {
	seen := map[domain.ID]struct{}{start: {}}
	cur := start
	for depth := 0; depth < maxDepth; depth++ {
		e, ok := lookup(cur)
		if !ok {
			return nil
		}
		next := parentOfEntity(e)
		if next.IsZero() || next.Kind == domain.KindActor {
			return nil
		}
		if _, dup := seen[next.ID]; dup {
			return domain.NewError(domain.KindCycleDetected, "commit", start, "would become its own ancestor via %s", next.ID)
		}
		seen[next.ID] = struct{}{}
		cur = next.ID
	}
	return domain.NewError(domain.KindCycleDetected, "commit", start, "nesting deeper than %d", maxDepth)
}

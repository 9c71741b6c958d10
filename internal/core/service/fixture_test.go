package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/volundmush/mudsnake/internal/adapter/storage"
	"github.com/volundmush/mudsnake/internal/core/domain"
	"github.com/volundmush/mudsnake/internal/core/schema"
	"github.com/volundmush/mudsnake/internal/port"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	b := schema.NewBuilder()
	require.NoError(t, b.DefineSlotType("head", schema.AcceptTypes("Helmet")))
	require.NoError(t, b.DefineSlotType("weapon-hand", schema.AcceptTypes("Weapon")))
	require.NoError(t, b.DefineSlotType("left-hand", schema.AcceptTypes("Weapon", "Shield")))
	require.NoError(t, b.DefineSlotType("right-hand", schema.AcceptTypes("Weapon", "Shield")))
	require.NoError(t, b.DefineSlotType("back", schema.AcceptTypes("Container")))
	require.NoError(t, b.DefineSlotType("quiver", schema.AcceptTypes("Ammo")))
	require.NoError(t, b.DefineActorSchema("humanoid",
		[]domain.SlotTag{"head", "weapon-hand", "left-hand", "right-hand", "back", "quiver"},
		[]schema.ExclusivityGroup{{Name: "hands", Slots: []domain.SlotTag{"left-hand", "right-hand"}}},
	))
	require.NoError(t, b.SetRootCapacity("humanoid", domain.Capacity{MaxCount: 10, MaxWeight: 10 * domain.Kilogram}))

	for _, tmpl := range []schema.ItemTemplate{
		{ID: "sword", Type: "Weapon", Weight: 1500},
		{ID: "dagger", Type: "Weapon", Weight: 500},
		{ID: "shield", Type: "Shield", Weight: 3000},
		{ID: "greatsword", Type: "Weapon", Weight: 4000, SpanGroup: "hands"},
		{ID: "helm", Type: "Helmet", Weight: 2000},
		{ID: "stone-6", Type: "Misc", Weight: 6},
		{ID: "stone-5", Type: "Misc", Weight: 5},
		{ID: "anvil", Type: "Misc", Weight: 4000},
		{ID: "arrow", Type: "Ammo", Weight: 10, MaxStack: 20},
		{ID: "backpack", Type: "Container", Weight: 1000, Inner: &domain.Capacity{MaxCount: 5, MaxWeight: 9000}},
		{ID: "pouch", Type: "Container", Weight: 100, Inner: &domain.Capacity{MaxCount: 3, MaxWeight: 2000}},
	} {
		require.NoError(t, b.DefineItemTemplate(tmpl))
	}
	reg, err := b.Build()
	require.NoError(t, err)
	return reg
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) HandleEvent(_ context.Context, ev domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) all() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

type fixture struct {
	svc    *InventoryService
	store  port.ObjectStore
	events *Emitter
	rec    *recorder
	logs   *test.Hook
}

func newFixture(t *testing.T, store port.ObjectStore, opts ...Option) *fixture {
	t.Helper()
	log, hook := test.NewNullLogger()
	if store == nil {
		store = storage.NewMemoryStore()
	}
	em := NewEmitter(log, 256)
	rec := &recorder{}
	em.Subscribe(rec)
	t.Cleanup(em.Close)

	svc := NewInventoryService(Deps{
		Registry:    testRegistry(t),
		Store:       store,
		Idempotency: storage.NewMemoryIdempotency(time.Minute),
		Emitter:     em,
		Logger:      log,
	}, opts...)
	return &fixture{svc: svc, store: store, events: em, rec: rec, logs: hook}
}

func (f *fixture) spawn(t *testing.T) domain.Actor {
	t.Helper()
	a, err := f.svc.SpawnActor(context.Background(), "humanoid", nil)
	require.NoError(t, err)
	return a
}

func (f *fixture) pile(t *testing.T, capacity domain.Capacity) domain.ID {
	t.Helper()
	c, err := f.svc.CreateContainer(context.Background(), domain.Parent{}, capacity)
	require.NoError(t, err)
	return c.ID
}

func (f *fixture) create(t *testing.T, template string, count int, container domain.ID) domain.ID {
	t.Helper()
	res, err := f.svc.Create(context.Background(), "", template, count, container)
	require.NoError(t, err)
	require.NotEmpty(t, res.Created)
	return res.Created[0]
}

func (f *fixture) item(t *testing.T, id domain.ID) domain.Item {
	t.Helper()
	it, err := f.svc.graph.Item(context.Background(), id)
	require.NoError(t, err)
	return it
}

func (f *fixture) slot(t *testing.T, id domain.ID) domain.Slot {
	t.Helper()
	sl, err := f.svc.graph.Slot(context.Background(), id)
	require.NoError(t, err)
	return sl
}

func (f *fixture) contents(t *testing.T, container domain.ID) []domain.ID {
	t.Helper()
	view, err := f.svc.Look(context.Background(), container)
	require.NoError(t, err)
	ids := make([]domain.ID, len(view.Items))
	for i, it := range view.Items {
		ids[i] = it.ID
	}
	return ids
}

func (f *fixture) stored(t *testing.T, id domain.ID) (domain.Entity, uint64) {
	t.Helper()
	e, v, err := f.store.Load(context.Background(), id)
	require.NoError(t, err)
	return e, v
}

func move(item, to domain.ID) Transaction {
	return Transaction{Name: "move", Steps: []Step{MoveItemToContainer{Item: item, To: to}}}
}

func eventTypes(events []domain.Event) []domain.EventType {
	out := make([]domain.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

// flakyStore fails upcoming batches with queued errors.
type flakyStore struct {
	*storage.MemoryStore
	mu      sync.Mutex
	pending []error
	applies int
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryStore: storage.NewMemoryStore()}
}

func (f *flakyStore) failNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, errs...)
}

func (f *flakyStore) Apply(ctx context.Context, writes []port.Write) error {
	f.mu.Lock()
	f.applies++
	if len(f.pending) > 0 {
		err := f.pending[0]
		f.pending = f.pending[1:]
		f.mu.Unlock()
		return err
	}
	f.mu.Unlock()
	return f.MemoryStore.Apply(ctx, writes)
}

// plainStore has no batch support, so the engine writes entity by entity.
type plainStore struct {
	inner  *storage.MemoryStore
	mu     sync.Mutex
	saves  int
	failAt int
}

func (p *plainStore) failOnSave(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saves = 0
	p.failAt = n
}

func (p *plainStore) Load(ctx context.Context, id domain.ID) (domain.Entity, uint64, error) {
	return p.inner.Load(ctx, id)
}

func (p *plainStore) Save(ctx context.Context, e domain.Entity, expected uint64) error {
	p.mu.Lock()
	p.saves++
	fail := p.failAt > 0 && p.saves == p.failAt
	p.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return p.inner.Save(ctx, e, expected)
}

func (p *plainStore) Delete(ctx context.Context, id domain.ID, expected uint64) error {
	return p.inner.Delete(ctx, id, expected)
}

// gateStore parks the next batch until the test releases it with an error
// or nil.
type gateStore struct {
	*storage.MemoryStore
	mu      sync.Mutex
	armed   bool
	entered chan struct{}
	release chan error
}

func newGateStore() *gateStore {
	return &gateStore{
		MemoryStore: storage.NewMemoryStore(),
		entered:     make(chan struct{}),
		release:     make(chan error),
	}
}

func (g *gateStore) arm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.armed = true
}

func (g *gateStore) Apply(ctx context.Context, writes []port.Write) error {
	g.mu.Lock()
	armed := g.armed
	g.armed = false
	g.mu.Unlock()
	if armed {
		g.entered <- struct{}{}
		if err := <-g.release; err != nil {
			return err
		}
	}
	return g.MemoryStore.Apply(ctx, writes)
}

package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/volundmush/mudsnake/internal/core/domain"
)

func waiters(m *Manager, id domain.ID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok {
		return len(e.waiters)
	}
	return 0
}

func waitForWaiters(t *testing.T, m *Manager, id domain.ID, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for waiters(m, id) < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d waiters on %s", n, id)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestOrder(t *testing.T) {
	got := Order([]domain.ID{"c", "a", "", "b", "a"})
	want := []domain.ID{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestAcquireRelease(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	g, err := m.Acquire(ctx, []domain.ID{"b", "a"})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !g.Covers([]domain.ID{"a", "b"}) {
		t.Error("expected guard to cover a and b")
	}
	if g.Covers([]domain.ID{"c"}) {
		t.Error("guard must not cover c")
	}

	g.Release()
	g.Release()

	if m.Len() != 0 {
		t.Errorf("expected empty lock table, got %d entries", m.Len())
	}
}

func TestAcquire_FIFOHandOff(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	holder, err := m.Acquire(ctx, []domain.ID{"pile"})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			g, err := m.Acquire(ctx, []domain.ID{"pile"})
			if err != nil {
				t.Errorf("waiter %d: %v", n, err)
				return
			}
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			g.Release()
		}(i)
		waitForWaiters(t, m, "pile", i+1)
	}

	holder.Release()
	wg.Wait()

	for i, n := range order {
		if n != i {
			t.Fatalf("expected FIFO order, got %v", order)
		}
	}
}

func TestAcquire_Timeout(t *testing.T) {
	m := NewManager()

	holder, err := m.Acquire(context.Background(), []domain.ID{"a"})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer holder.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = m.Acquire(ctx, []domain.ID{"a"})
	if !errors.Is(err, domain.ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected wrapped deadline error, got %v", err)
	}
	if !domain.IsRetryable(err) {
		t.Error("lock timeout must be retryable")
	}
	if waiters(m, "a") != 0 {
		t.Error("timed out waiter must leave the queue")
	}
}

func TestAcquire_PartialReleasedOnFailure(t *testing.T) {
	m := NewManager()

	holder, err := m.Acquire(context.Background(), []domain.ID{"b"})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Acquire(ctx, []domain.ID{"a", "b"}); err == nil {
		t.Fatal("expected timeout")
	}

	// "a" must be free again even though "b" was never obtained.
	g, err := m.Acquire(context.Background(), []domain.ID{"a"})
	if err != nil {
		t.Fatalf("a should be free: %v", err)
	}
	g.Release()
	holder.Release()

	if m.Len() != 0 {
		t.Errorf("expected empty lock table, got %d", m.Len())
	}
}

func TestAcquire_CancelledBeforeStart(t *testing.T) {
	m := NewManager()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Acquire(ctx, []domain.ID{"a"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAcquire_DisjointDoNotBlock(t *testing.T) {
	m := NewManager()

	holder, err := m.Acquire(context.Background(), []domain.ID{"a", "b"})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer holder.Release()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	g, err := m.Acquire(ctx, []domain.ID{"c", "d"})
	if err != nil {
		t.Fatalf("disjoint acquire blocked: %v", err)
	}
	g.Release()
}

func TestAcquire_OverlappingSetsNoDeadlock(t *testing.T) {
	m := NewManager()
	ids := []domain.ID{"a", "b", "c", "d"}

	var counter int
	var done atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			// Reverse every other request; Acquire must still order them.
			set := []domain.ID{ids[n%4], ids[(n+1)%4], ids[(n+2)%4]}
			if n%2 == 0 {
				set = []domain.ID{set[2], set[1], set[0]}
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			g, err := m.Acquire(ctx, set)
			if err != nil {
				t.Errorf("acquire %d: %v", n, err)
				return
			}
			counter++
			done.Add(1)
			g.Release()
		}(i)
	}
	wg.Wait()

	if done.Load() != 50 {
		t.Errorf("expected 50 completions, got %d", done.Load())
	}
	if counter != 50 {
		t.Errorf("expected counter 50 under mutual exclusion, got %d", counter)
	}
	if m.Len() != 0 {
		t.Errorf("expected empty lock table, got %d", m.Len())
	}
}

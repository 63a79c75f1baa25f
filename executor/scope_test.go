package executor

import (
	"errors"
	"strings"
	"testing"
)

func TestScopeWaitsForNothingLeft(t *testing.T) {
	t.Parallel()
	e := NewExecutor(WithNumThreads(2))
	defer e.Close()

	type out struct {
		hi *JoinHandle[int]
		lo *JoinHandle[int]
	}
	r := ScopeOn(e, func(s *TaskScope) out {
		return out{
			hi: SpawnScoped(s, High, Once(func() int { return 42 })),
			lo: SpawnScoped(s, Low, pendingForever[int]()),
		}
	})

	// The scope has ended: every member is finished or cancelled, no
	// polling after this point.
	v, err, ok := r.hi.TryResult()
	if !ok {
		t.Fatal("high task unresolved after its scope ended")
	}
	if err != nil || v != 42 {
		t.Fatalf("high task = (%d, %v), want (42, nil)", v, err)
	}
	_, err, ok = r.lo.TryResult()
	if !ok {
		t.Fatal("pending low task unresolved after its scope ended")
	}
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("pending low task err = %v, want ErrCancelled", err)
	}
}

func TestScopeCancelsNeverPolledTask(t *testing.T) {
	t.Parallel()
	e := NewExecutor(WithNumThreads(1))
	defer e.Close()

	// Wedge the only worker so the scoped task is still queued when the
	// scope tears down.
	block := make(chan struct{})
	busy := SpawnOn(e, High, Once(func() int {
		<-block
		return 0
	}))

	h := ScopeOn(e, func(s *TaskScope) *JoinHandle[int] {
		return SpawnScoped(s, High, Once(func() int { return 1 }))
	})
	close(block)

	if _, err := busy.Await(testCtx(t)); err != nil {
		t.Fatalf("wedge task: %v", err)
	}
	_, err, ok := h.TryResult()
	if !ok || !errors.Is(err, ErrCancelled) {
		t.Fatalf("queued task outcome = (%v, %v), want cancelled", err, ok)
	}
}

func TestScopePanicPropagatesAfterTeardown(t *testing.T) {
	t.Parallel()
	e := NewExecutor(WithNumThreads(2))
	defer e.Close()

	var h *JoinHandle[int]
	func() {
		defer func() {
			r := recover()
			if r == nil {
				t.Fatal("panic in the scope closure did not propagate")
			}
			if s, _ := r.(string); !strings.Contains(s, "boom") {
				t.Fatalf("unexpected panic value: %v", r)
			}
		}()
		ScopeOn(e, func(s *TaskScope) int {
			h = SpawnScoped(s, High, pendingForever[int]())
			panic("boom")
		})
	}()

	// Teardown ran before the panic reached us.
	_, err, ok := h.TryResult()
	if !ok || !errors.Is(err, ErrCancelled) {
		t.Fatalf("member outcome = (%v, %v), want cancelled", err, ok)
	}
}

func TestSpawnAfterScopeEndsPanics(t *testing.T) {
	t.Parallel()
	e := NewExecutor(WithNumThreads(2))
	defer e.Close()

	var leaked *TaskScope
	ScopeOn(e, func(s *TaskScope) int {
		leaked = s
		return 0
	})

	defer func() {
		if recover() == nil {
			t.Fatal("spawn on an ended scope did not panic")
		}
	}()
	SpawnScoped(leaked, High, Once(func() int { return 0 }))
}

func TestScopeSlotReuse(t *testing.T) {
	t.Parallel()
	e := NewExecutor(WithNumThreads(2))
	defer e.Close()

	s := newTaskScope(e)
	defer s.destroy()

	h := SpawnScoped(s, High, Once(func() int { return 1 }))
	if _, err := h.Await(testCtx(t)); err != nil {
		t.Fatalf("first task: %v", err)
	}

	// The next spawn reclaims the finished task's bookkeeping slot
	// instead of growing the arena, bumping the generation so the old
	// key is dead.
	h2 := SpawnScoped(s, High, Once(func() int { return 2 }))
	s.mu.Lock()
	nslots := len(s.slots)
	gen := s.slots[0].gen
	s.mu.Unlock()
	if nslots != 1 {
		t.Fatalf("arena grew to %d slots across sequential spawns", nslots)
	}
	if gen != 1 {
		t.Fatalf("slot generation = %d after reuse, want 1", gen)
	}
	if _, err := h2.Await(testCtx(t)); err != nil {
		t.Fatalf("second task: %v", err)
	}
}

func TestReleaseStaleKeyIsNoop(t *testing.T) {
	t.Parallel()
	e := newExecutor(WithNumThreads(1))
	s := newTaskScope(e)

	s.mu.Lock()
	k := s.reserveLocked()
	s.releaseLocked(k)
	free := len(s.free)
	s.releaseLocked(k) // stale generation
	s.releaseLocked(taskKey{index: 99, gen: 0})
	if len(s.free) != free {
		s.mu.Unlock()
		t.Fatal("stale key release mutated the free list")
	}
	s.mu.Unlock()
	s.destroy()
}

func TestScopeIDsAreDistinct(t *testing.T) {
	t.Parallel()
	e := newExecutor(WithNumThreads(1))
	a := newTaskScope(e)
	b := newTaskScope(e)
	defer a.destroy()
	defer b.destroy()
	if a.ID() == "" || a.ID() == b.ID() {
		t.Fatalf("scope ids not distinct: %q vs %q", a.ID(), b.ID())
	}
}

func TestScopeDestroyIdempotent(t *testing.T) {
	t.Parallel()
	e := NewExecutor(WithNumThreads(1))
	defer e.Close()

	s := newTaskScope(e)
	SpawnScoped(s, High, pendingForever[int]())
	s.destroy()
	s.destroy()
}

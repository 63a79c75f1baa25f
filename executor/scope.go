package executor

import (
	"sync"

	"github.com/google/uuid"
)

// taskKey identifies a slot in a scope's cancel-handle arena. The
// generation check makes a key from an already reclaimed task unable to
// alias a freshly issued one.
type taskKey struct {
	index uint32
	gen   uint32
}

type handleSlot struct {
	gen      uint32
	occupied bool
	cancel   cancelHandle
}

// completedList is shared between a scope and its tasks: each task
// pushes its own key when it finishes so the scope can reclaim the
// bookkeeping slot on the next spawn. After the scope is destroyed the
// list is closed and pushes become no-ops.
type completedList struct {
	mu     sync.Mutex
	closed bool
	keys   []taskKey
}

func (l *completedList) push(k taskKey) {
	l.mu.Lock()
	if !l.closed {
		l.keys = append(l.keys, k)
	}
	l.mu.Unlock()
}

func (l *completedList) drain() []taskKey {
	l.mu.Lock()
	keys := l.keys
	l.keys = nil
	l.mu.Unlock()
	return keys
}

func (l *completedList) close() {
	l.mu.Lock()
	l.closed = true
	l.keys = nil
	l.mu.Unlock()
}

// TaskScope is a bounded-lifetime region: every task spawned in it is
// guaranteed to be finished or force-cancelled by the time the Scope
// call that created it returns. That guarantee is what makes it safe
// for scoped futures to reference data owned by the calling frame.
type TaskScope struct {
	e  *Executor
	id string

	mu        sync.Mutex
	slots     []handleSlot
	free      []uint32
	destroyed bool

	completed *completedList
}

func newTaskScope(e *Executor) *TaskScope {
	s := &TaskScope{
		e:         e,
		id:        uuid.New().String(),
		completed: &completedList{},
	}
	e.observer().ScopeCreated(s.id)
	return s
}

// ID returns the scope's diagnostic identity.
func (s *TaskScope) ID() string { return s.id }

// Scope runs f with a task scope on the process-wide executor. Teardown
// (cancellation of every still-live member) runs on every exit path,
// including a panic in f, before the result or the panic reaches the
// caller.
func Scope[T any](f func(*TaskScope) T) T {
	return ScopeOn(Default(), f)
}

// ScopeOn is Scope against an explicit executor instance.
func ScopeOn[T any](e *Executor, f func(*TaskScope) T) T {
	s := newTaskScope(e)
	defer s.destroy()
	return f(s)
}

// SpawnScoped submits a bounded-lifetime task. The future may reference
// data owned by the frame enclosing the Scope call. Valid only until
// the scope's closure returns.
func SpawnScoped[T any](s *TaskScope, pri Priority, fut Future[T]) *JoinHandle[T] {
	origin := callerOrigin(2)

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		panic("executor: spawn on a scope that has ended")
	}
	s.clearCompletedLocked()
	key := s.reserveLocked()
	t, h := newTask(s.e, pri, fut, origin, &scopeRecord{key: key, completed: s.completed})
	s.slots[key.index].cancel = cancelHandle{t: t}
	s.mu.Unlock()

	s.e.observer().TaskSpawned(origin, pri, true)
	t.wake(nil)
	return h
}

// clearCompletedLocked reclaims slots for tasks that self-reported
// completion since the last spawn.
func (s *TaskScope) clearCompletedLocked() {
	for _, k := range s.completed.drain() {
		s.releaseLocked(k)
	}
}

func (s *TaskScope) reserveLocked() taskKey {
	if n := len(s.free); n > 0 {
		idx := s.free[n-1]
		s.free = s.free[:n-1]
		s.slots[idx].occupied = true
		return taskKey{index: idx, gen: s.slots[idx].gen}
	}
	idx := uint32(len(s.slots))
	s.slots = append(s.slots, handleSlot{occupied: true})
	return taskKey{index: idx, gen: 0}
}

func (s *TaskScope) releaseLocked(k taskKey) {
	if k.index >= uint32(len(s.slots)) {
		return
	}
	slot := &s.slots[k.index]
	if !slot.occupied || slot.gen != k.gen {
		// Stale key from a slot already recycled.
		return
	}
	slot.occupied = false
	slot.gen++
	slot.cancel = cancelHandle{}
	s.free = append(s.free, k.index)
}

// destroy cancels every still-live member. It runs exactly once, and
// blocks until no member is mid-poll, so no scoped task can execute
// past this point.
func (s *TaskScope) destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	var live []cancelHandle
	for i := range s.slots {
		if s.slots[i].occupied {
			live = append(live, s.slots[i].cancel)
			s.slots[i].occupied = false
			s.slots[i].gen++
			s.slots[i].cancel = cancelHandle{}
		}
	}
	s.mu.Unlock()

	s.completed.close()
	for _, c := range live {
		c.cancel()
	}
	s.e.observer().ScopeDestroyed(s.id, len(live))
}

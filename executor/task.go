package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Priority selects the scheduling lane for a task. High tasks are
// preferred over Low at every local placement decision, but the
// preference is soft: a Low task already claimed by another worker is
// not displaced.
type Priority uint8

const (
	Low Priority = iota
	High
)

func (p Priority) String() string {
	if p == High {
		return "high"
	}
	return "low"
}

// Poll reports whether a future completed or suspended.
type Poll uint8

const (
	Pending Poll = iota
	Ready
)

// ErrCancelled is delivered through a JoinHandle when the task was
// force-terminated before producing a value.
var ErrCancelled = errors.New("executor: task cancelled")

// Future is a cooperatively scheduled computation. Poll either completes
// with a value (Ready) or suspends (Pending) after arranging for the
// context's Waker to be invoked once the task can make progress again.
// The executor is the sole driver: suspension points are exactly the
// returns of Pending.
type Future[T any] interface {
	Poll(cx *Context) (T, Poll)
}

// FutureFunc adapts a function to the Future interface.
type FutureFunc[T any] func(cx *Context) (T, Poll)

func (f FutureFunc[T]) Poll(cx *Context) (T, Poll) { return f(cx) }

// Once wraps a plain function as a future completing on its first poll.
func Once[T any](f func() T) Future[T] {
	return FutureFunc[T](func(*Context) (T, Poll) {
		return f(), Ready
	})
}

// Context carries per-poll state into a future.
type Context struct {
	waker Waker
}

// Waker returns the capability to re-schedule the task being polled. It
// may be retained past the poll and invoked from any goroutine.
func (cx *Context) Waker() Waker { return cx.waker }

// Waker re-schedules a suspended task. The zero Waker is a no-op.
type Waker struct {
	t *task
	// local is a placement hint: the worker that minted this waker.
	// Stale hints degrade locality, never safety; every per-worker
	// structure tolerates cross-thread access.
	local *worker
}

// Wake marks the task ready and hands it to the scheduler. Waking an
// already scheduled, running or finished task coalesces into at most one
// pending run.
func (w Waker) Wake() {
	if w.t != nil {
		w.t.wake(w.local)
	}
}

// Task state bits.
const (
	stateScheduled uint32 = 1 << iota // queued or in a slot
	stateRunning                      // being polled right now
	stateWoken                        // wake arrived during a poll
	stateDone                         // result or cancellation delivered
	stateCancelReq                    // cancellation requested
)

// scopeRecord links a scoped task to its owning scope's bookkeeping.
type scopeRecord struct {
	key       taskKey
	completed *completedList
}

type taskMeta struct {
	origin    string
	pri       Priority
	fresh     atomic.Bool
	nsBlocked atomic.Uint64
	scoped    *scopeRecord
}

// task is the executor-internal unit of work: a type-erased poll
// function plus scheduling state. The run mutex is the hard mutual
// exclusion boundary: at most one worker polls a task at a time, and
// cancellation blocks on it so teardown never returns while a poll is
// in flight.
type task struct {
	exec *Executor
	meta taskMeta

	mu    sync.Mutex // held while polling or finalizing
	state atomic.Uint32
	poll  func(cx *Context) Poll
	// setErr stores the outcome into the typed JoinHandle.
	setErr func(err error)

	joinMu     sync.Mutex
	finished   bool
	joinWakers []Waker
	done       chan struct{}
}

func (t *task) wake(local *worker) {
	for {
		s := t.state.Load()
		if s&(stateDone|stateScheduled) != 0 {
			return
		}
		if s&stateRunning != 0 {
			if t.state.CompareAndSwap(s, s|stateWoken) {
				return
			}
			continue
		}
		if t.state.CompareAndSwap(s, s|stateScheduled) {
			t.exec.scheduleTask(t, local)
			return
		}
	}
}

// run drives the task through one poll on worker w.
func (t *task) run(w *worker) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.state.Load()
	if s&stateDone != 0 {
		// Cancelled or completed while still sitting in a queue.
		return
	}
	for {
		if t.state.CompareAndSwap(s, s&^(stateScheduled|stateWoken)|stateRunning) {
			break
		}
		s = t.state.Load()
	}

	cx := &Context{waker: Waker{t: t, local: w}}
	ready, panicErr := t.pollOnce(cx)
	if panicErr != nil {
		t.completeLocked(panicErr)
		return
	}
	if ready {
		t.completeLocked(nil)
		return
	}

	// Suspended. Re-schedule if a wake raced the poll, finalize if a
	// cancel did.
	for {
		s = t.state.Load()
		if s&stateCancelReq != 0 {
			t.completeLocked(ErrCancelled)
			return
		}
		if s&stateWoken != 0 {
			if t.state.CompareAndSwap(s, s&^(stateRunning|stateWoken)|stateScheduled) {
				t.exec.scheduleTask(t, w)
				return
			}
			continue
		}
		if t.state.CompareAndSwap(s, s&^stateRunning) {
			return
		}
	}
}

// pollOnce calls the future, converting a panic into a task outcome
// rather than letting it unwind a worker.
func (t *task) pollOnce(cx *Context) (ready bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor: task panic: %v", r)
		}
	}()
	return t.poll(cx) == Ready, nil
}

// cancel force-terminates the task. It blocks until any in-flight poll
// has returned, so once cancel returns the task can no longer touch
// caller-owned data. Cancelling a finished task is a no-op.
func (t *task) cancel() {
	for {
		s := t.state.Load()
		if s&stateDone != 0 {
			return
		}
		if t.state.CompareAndSwap(s, s|stateCancelReq) {
			break
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Load()&stateDone != 0 {
		return
	}
	t.completeLocked(ErrCancelled)
}

// completeLocked delivers the outcome exactly once. Caller holds t.mu.
func (t *task) completeLocked(err error) {
	for {
		s := t.state.Load()
		if t.state.CompareAndSwap(s, (s&^(stateRunning|stateWoken))|stateDone) {
			break
		}
	}
	t.setErr(err)

	// Bookkeeping runs before the handle resolves: fold blocked time
	// into the per-origin stats and report back to the owning scope.
	if ns := t.meta.nsBlocked.Load(); ns != 0 {
		recordBlocked(t.meta.origin, ns)
	}
	if sc := t.meta.scoped; sc != nil {
		sc.completed.push(sc.key)
	}
	t.exec.observer().TaskFinished(t.meta.origin, time.Duration(t.meta.nsBlocked.Load()), err)

	t.joinMu.Lock()
	t.finished = true
	wakers := t.joinWakers
	t.joinWakers = nil
	t.joinMu.Unlock()
	close(t.done)
	for _, w := range wakers {
		w.Wake()
	}
}

// cancelHandle is the capability to force-terminate one task. Held by
// the scope that spawned it.
type cancelHandle struct {
	t *task
}

func (c cancelHandle) cancel() {
	if c.t != nil {
		c.t.cancel()
	}
}

// JoinHandle owns the right to observe a task's outcome. Discarding a
// handle never blocks the task: an unbounded task runs to completion, a
// scoped one until its scope ends. Abort cancels explicitly.
type JoinHandle[T any] struct {
	t      *task
	result T
	err    error
}

// Await blocks until the task finishes or ctx is done. It returns the
// task's value, ErrCancelled, or the error captured from a task panic.
func (h *JoinHandle[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-h.t.done:
		return h.result, h.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// TryResult returns the outcome without blocking; ok is false while the
// task is still in flight.
func (h *JoinHandle[T]) TryResult() (v T, err error, ok bool) {
	select {
	case <-h.t.done:
		return h.result, h.err, true
	default:
		var zero T
		return zero, nil, false
	}
}

// Abort force-terminates the task if it has not finished.
func (h *JoinHandle[T]) Abort() {
	h.t.cancel()
}

// PollJoin lets one task cooperatively await another: it completes with
// the target's outcome, or registers cx's waker and suspends.
func (h *JoinHandle[T]) PollJoin(cx *Context) (T, error, Poll) {
	t := h.t
	t.joinMu.Lock()
	if t.finished {
		t.joinMu.Unlock()
		return h.result, h.err, Ready
	}
	t.joinWakers = append(t.joinWakers, cx.Waker())
	t.joinMu.Unlock()
	var zero T
	return zero, nil, Pending
}

// newTask pairs an executor-internal task with its typed JoinHandle.
func newTask[T any](e *Executor, pri Priority, fut Future[T], origin string, scoped *scopeRecord) (*task, *JoinHandle[T]) {
	t := &task{
		exec: e,
		meta: taskMeta{origin: origin, pri: pri, scoped: scoped},
		done: make(chan struct{}),
	}
	t.meta.fresh.Store(true)
	h := &JoinHandle[T]{t: t}
	t.poll = func(cx *Context) Poll {
		v, p := fut.Poll(cx)
		if p == Ready {
			h.result = v
		}
		return p
	}
	t.setErr = func(err error) { h.err = err }
	return t, h
}

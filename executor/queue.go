package executor

import (
	"sync"
	"sync/atomic"
)

// stealResult mirrors the three-way outcome of a non-blocking steal
// attempt: nothing there, got one, or lost a race and worth retrying.
type stealResult uint8

const (
	stealEmpty stealResult = iota
	stealSuccess
	stealRetry
)

const ringCap = 256

// taskRing is a bounded ring of ready tasks attached to one worker.
// Consumers (the owning worker and thieves) pop from the head with a
// CAS; producers publish at the tail under a short mutex, since a wake
// carrying a stale locality hint may push from any goroutine. A full
// ring overflows to the global queues so work is never dropped.
type taskRing struct {
	head   atomic.Uint32
	tail   atomic.Uint32
	pushMu sync.Mutex
	buf    [ringCap]atomic.Pointer[task]
}

// push publishes t at the tail. Returns false if the ring is full.
func (r *taskRing) push(t *task) bool {
	r.pushMu.Lock()
	defer r.pushMu.Unlock()
	h := r.head.Load()
	tl := r.tail.Load()
	if tl-h >= ringCap {
		return false
	}
	r.buf[tl%ringCap].Store(t)
	r.tail.Store(tl + 1) // publish, consumers synchronize on tail
	return true
}

// pop removes one task from the head, competing with thieves.
func (r *taskRing) pop() (*task, bool) {
	for {
		h := r.head.Load()
		tl := r.tail.Load()
		if tl == h {
			return nil, false
		}
		t := r.buf[h%ringCap].Load()
		if r.head.CompareAndSwap(h, h+1) {
			return t, true
		}
	}
}

func (r *taskRing) empty() bool {
	return r.tail.Load() == r.head.Load()
}

// grabInto makes a single attempt to steal half of the ring into batch,
// reporting a retryable conflict instead of spinning so the caller's
// steal rounds stay in control of the retry policy. batch must hold at
// least ringCap/2 entries.
func (r *taskRing) grabInto(batch []*task) (int, stealResult) {
	h := r.head.Load()
	tl := r.tail.Load()
	n := tl - h
	n -= n / 2
	if n == 0 {
		return 0, stealEmpty
	}
	if n > ringCap/2 {
		// Inconsistent head/tail snapshot.
		return 0, stealRetry
	}
	for i := uint32(0); i < n; i++ {
		batch[i] = r.buf[(h+i)%ringCap].Load()
	}
	if !r.head.CompareAndSwap(h, h+n) {
		return 0, stealRetry
	}
	return int(n), stealSuccess
}

// injector is an unbounded multi-producer multi-consumer FIFO used as a
// global overflow queue. Michael-Scott linked queue; steal makes one
// attempt and surfaces conflicts as stealRetry.
type injector struct {
	head atomic.Pointer[injNode]
	tail atomic.Pointer[injNode]
}

type injNode struct {
	next atomic.Pointer[injNode]
	t    *task
}

func newInjector() *injector {
	q := &injector{}
	sentinel := &injNode{}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)
	return q
}

func (q *injector) push(t *task) {
	n := &injNode{t: t}
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if next != nil {
			// Help a lagging producer along.
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		if tail.next.CompareAndSwap(nil, n) {
			q.tail.CompareAndSwap(tail, n)
			return
		}
	}
}

func (q *injector) steal() (*task, stealResult) {
	head := q.head.Load()
	next := head.next.Load()
	if next == nil {
		return nil, stealEmpty
	}
	if q.head.CompareAndSwap(head, next) {
		t := next.t
		next.t = nil
		return t, stealSuccess
	}
	return nil, stealRetry
}

func (q *injector) empty() bool {
	return q.head.Load().next.Load() == nil
}

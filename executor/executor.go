package executor

import (
	"math/rand/v2"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Option configures an Executor at construction time.
type Option func(*Executor)

// WithNumThreads sets the worker pool size. A value <= 0 is normalized
// to runtime.NumCPU().
func WithNumThreads(n int) Option {
	return func(e *Executor) { e.numThreads = n }
}

// WithObserver attaches lifecycle hooks for metrics or tracing.
func WithObserver(obs Observer) Option {
	return func(e *Executor) { e.obs = obs }
}

// Executor schedules cooperative tasks onto a fixed pool of workers.
// Most callers use the process-wide instance through Spawn and Scope;
// explicit instances exist for tests and embedders.
type Executor struct {
	numThreads int
	obs        Observer

	park       *parkGroup
	workers    []*worker
	globalHigh *injector
	globalLow  *injector

	stopped atomic.Bool
	wg      sync.WaitGroup
}

// worker owns one task list: a single-slot fast path plus a stealable
// ring. The slot is an atomic pointer claimed by CAS, so a scheduling
// call from any goroutine is safe; only placement quality depends on
// who calls.
type worker struct {
	id   int
	e    *Executor
	slot atomic.Pointer[task]
	ring taskRing
	pw   *parkWorker
	rng  *rand.Rand

	stealBuf [ringCap / 2]*task
}

// NewExecutor creates and starts an executor instance. Close releases
// its workers; the process-wide instance obtained implicitly through
// Spawn is never closed.
func NewExecutor(opts ...Option) *Executor {
	e := newExecutor(opts...)
	e.start()
	return e
}

func newExecutor(opts ...Option) *Executor {
	e := &Executor{
		park:       newParkGroup(),
		globalHigh: newInjector(),
		globalLow:  newInjector(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.numThreads <= 0 {
		e.numThreads = runtime.NumCPU()
	}
	if e.obs == nil {
		e.obs = nopObserver{}
	}
	for i := 0; i < e.numThreads; i++ {
		e.workers = append(e.workers, &worker{
			id:  i,
			e:   e,
			pw:  e.park.newWorker(),
			rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		})
	}
	return e
}

func (e *Executor) start() {
	for _, w := range e.workers {
		e.wg.Add(1)
		go e.runner(w)
	}
}

// NumThreads reports the fixed worker pool size.
func (e *Executor) NumThreads() int { return e.numThreads }

// Close stops the instance's workers and waits for them to exit. Tasks
// still queued are not drained; callers should join what they care
// about first. Close must not be used on the process-wide instance.
func (e *Executor) Close() error {
	e.stopped.Store(true)
	e.park.close()
	e.wg.Wait()
	return nil
}

func (e *Executor) observer() Observer { return e.obs }

// scheduleTask places a ready task according to the scheduling policy.
// local carries the worker hint from the waker, nil when the wake came
// from outside the pool.
func (e *Executor) scheduleTask(t *task, local *worker) {
	meta := &t.meta

	useGlobal := local == nil || local.e != e
	if meta.fresh.Load() {
		// First ever schedule: spread new work across the pool instead
		// of pinning it to the spawning worker.
		useGlobal = true
		meta.fresh.Store(false)
	}

	if useGlobal {
		if meta.pri == High {
			e.globalHigh.push(t)
		} else {
			e.globalLow.push(t)
		}
		e.park.unparkOne()
		return
	}

	if meta.pri == High {
		old := local.slot.Swap(t)
		if old != nil {
			local.pushLocal(old)
			e.park.unparkOne()
		}
		// The slot is invisible to thieves, and the hinted worker may
		// have parked since the waker was minted: wake it directly.
		e.park.unpark(local.pw)
		return
	}

	// A low priority task may piggyback on an otherwise idle worker, but
	// never displaces pending high priority work.
	if local.ring.empty() && local.slot.Load() == nil && local.slot.CompareAndSwap(nil, t) {
		e.park.unpark(local.pw)
		return
	}
	e.globalLow.push(t)
	e.park.unparkOne()
}

// pushLocal appends to the worker's ring, overflowing to the global
// high queue when full.
func (w *worker) pushLocal(t *task) {
	if !w.ring.push(t) {
		w.e.globalHigh.push(t)
	}
}

// trySteal looks for work anywhere: global queues first, then up to 4
// rounds of visiting the other workers' rings in random order. A
// retryable conflict on any victim forces another full round; four
// fruitless rounds bound steal latency before the caller parks.
func (e *Executor) trySteal(w *worker) *task {
	for {
		t, res := e.globalHigh.steal()
		if res == stealSuccess {
			return t
		}
		if res == stealEmpty {
			break
		}
	}
	for {
		t, res := e.globalLow.steal()
		if res == stealSuccess {
			return t
		}
		if res == stealEmpty {
			break
		}
	}

	for round := 0; round < 4; round++ {
		retry := true
		for retry {
			retry = false
			perm := newPermutation(uint32(len(e.workers)), w.rng)
			for idx, ok := perm.next(); ok; idx, ok = perm.next() {
				victim := e.workers[idx]
				if victim == w {
					continue
				}
				n, res := victim.ring.grabInto(w.stealBuf[:])
				switch res {
				case stealRetry:
					retry = true
				case stealSuccess:
					for i := 0; i < n-1; i++ {
						w.pushLocal(w.stealBuf[i])
					}
					t := w.stealBuf[n-1]
					for i := range n {
						w.stealBuf[i] = nil
					}
					return t
				}
			}
		}
	}
	return nil
}

// runner is the worker loop: own slot, own ring, steal, then park with
// one last steal to close the race against a concurrent push.
func (e *Executor) runner(w *worker) {
	defer e.wg.Done()

	var blockStart time.Time
	for {
		if e.stopped.Load() {
			return
		}
		t := w.findTask(&blockStart)
		if t == nil {
			continue
		}
		if !blockStart.IsZero() {
			if waitStatsEnabled() {
				t.meta.nsBlocked.Add(uint64(time.Since(blockStart)))
			}
			blockStart = time.Time{}
		}
		w.pw.recruitNext()
		t.run(w)
	}
}

func (w *worker) findTask(blockStart *time.Time) *task {
	if t := w.slot.Swap(nil); t != nil {
		return t
	}
	if t, ok := w.ring.pop(); ok {
		return t
	}
	if t := w.e.trySteal(w); t != nil {
		return t
	}

	tok := w.pw.preparePark()
	// Re-check the private task list after registering intent: a slot
	// install that raced the scan above targets this worker's unpark,
	// which is only visible once intent is registered.
	if t := w.slot.Swap(nil); t != nil {
		// recruitNext in the runner withdraws the park intent.
		return t
	}
	if t, ok := w.ring.pop(); ok {
		return t
	}
	if t := w.e.trySteal(w); t != nil {
		return t
	}
	if blockStart.IsZero() && waitStatsEnabled() {
		*blockStart = time.Now()
	}
	if tok.notified() {
		// Park will not block; skip the parked/resumed bookkeeping.
		tok.park()
		return nil
	}
	w.e.observer().WorkerParked(w.id)
	tok.park()
	w.e.observer().WorkerResumed(w.id)
	return nil
}

// Process-wide instance, created lazily on first use and never torn
// down.
var (
	defaultNumThreads atomic.Int64
	defaultObserver   atomic.Value // Observer
	defaultOnce       sync.Once
	defaultExec       *Executor
)

// SetNumThreads configures the process-wide pool size. It only takes
// effect if called before the first spawn, since the pool is created
// lazily and exactly once.
func SetNumThreads(n int) {
	defaultNumThreads.Store(int64(n))
}

// SetObserver attaches lifecycle hooks to the process-wide instance.
// Like SetNumThreads it must be called before first use.
func SetObserver(obs Observer) {
	if obs != nil {
		defaultObserver.Store(obs)
	}
}

// Default returns the process-wide executor, creating it on first use.
func Default() *Executor {
	defaultOnce.Do(func() {
		opts := []Option{WithNumThreads(int(defaultNumThreads.Load()))}
		if obs, ok := defaultObserver.Load().(Observer); ok {
			opts = append(opts, WithObserver(obs))
		}
		defaultExec = NewExecutor(opts...)
	})
	return defaultExec
}

// Spawn submits an unbounded-lifetime task to the process-wide executor.
// The future must own all data it references.
func Spawn[T any](pri Priority, fut Future[T]) *JoinHandle[T] {
	return spawnAt(Default(), pri, fut, callerOrigin(2), nil)
}

// SpawnOn is Spawn against an explicit executor instance.
func SpawnOn[T any](e *Executor, pri Priority, fut Future[T]) *JoinHandle[T] {
	return spawnAt(e, pri, fut, callerOrigin(2), nil)
}

func spawnAt[T any](e *Executor, pri Priority, fut Future[T], origin string, scoped *scopeRecord) *JoinHandle[T] {
	t, h := newTask(e, pri, fut, origin, scoped)
	e.observer().TaskSpawned(origin, pri, scoped != nil)
	t.wake(nil)
	return h
}

// callerOrigin identifies a spawn site as file:line for diagnostics and
// wait-time accounting.
func callerOrigin(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	return file + ":" + strconv.Itoa(line)
}

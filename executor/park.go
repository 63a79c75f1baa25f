package executor

import "sync"

// parkGroup coordinates a group of workers so idle ones can block
// without spinning and a producer can wake at most one sleeper per
// unpark. Parking is two-phase: a worker first registers intent with
// preparePark, performs one last check for work, and only then parks on
// the returned token. An unpark delivered between the two phases is
// observed by park, which then returns immediately instead of sleeping.
type parkGroup struct {
	mu     sync.Mutex
	idle   []*parkWorker // workers with registered park intent, LIFO
	closed bool
}

type parkWorker struct {
	g        *parkGroup
	wake     chan struct{}
	intent   bool // guarded by g.mu: present in g.idle
	notified bool // guarded by g.mu: consumed an unpark
}

func newParkGroup() *parkGroup {
	return &parkGroup{}
}

func (g *parkGroup) newWorker() *parkWorker {
	return &parkWorker{g: g, wake: make(chan struct{}, 1)}
}

// parkToken commits a single prepare/park cycle.
type parkToken struct {
	w *parkWorker
}

// notified reports whether an unpark or a group close already arrived,
// meaning park on this token will return without blocking.
func (t parkToken) notified() bool {
	g := t.w.g
	g.mu.Lock()
	defer g.mu.Unlock()
	return t.w.notified || g.closed
}

// preparePark registers park intent. The caller must either park on the
// token or call recruitNext after obtaining work.
func (w *parkWorker) preparePark() parkToken {
	g := w.g
	g.mu.Lock()
	if !w.intent {
		w.intent = true
		g.idle = append(g.idle, w)
	}
	w.notified = false
	g.mu.Unlock()
	return parkToken{w: w}
}

// park blocks until an unpark is delivered, unless one already arrived
// since preparePark or the group has been closed.
func (t parkToken) park() {
	w := t.w
	g := w.g
	g.mu.Lock()
	if w.notified || g.closed {
		w.notified = false
		g.removeIdleLocked(w)
		g.mu.Unlock()
		w.drainWake()
		return
	}
	g.mu.Unlock()

	<-w.wake

	g.mu.Lock()
	w.notified = false
	g.mu.Unlock()
}

// unparkOne wakes at most one worker with park intent. No-op when every
// worker is already awake.
func (g *parkGroup) unparkOne() {
	g.mu.Lock()
	if w := g.popIdleLocked(); w != nil {
		w.notified = true
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
	g.mu.Unlock()
}

// unpark wakes one specific worker if it has park intent. Needed when
// work lands in a worker's private slot: that slot is invisible to
// thieves, so waking an arbitrary sleeper would not help.
func (g *parkGroup) unpark(w *parkWorker) {
	g.mu.Lock()
	if w.intent {
		g.removeIdleLocked(w)
		w.notified = true
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
	g.mu.Unlock()
}

// recruitNext is called by a worker that obtained a task. It withdraws
// any pending park intent, and if this worker had consumed an unpark
// without sleeping it passes that wake on to the next idle worker so
// wakeups are not lost.
func (w *parkWorker) recruitNext() {
	g := w.g
	g.mu.Lock()
	g.removeIdleLocked(w)
	passOn := w.notified
	w.notified = false
	g.mu.Unlock()
	w.drainWake()
	if passOn {
		g.unparkOne()
	}
}

// close wakes every parked worker and makes all future parks return
// immediately. Used when tearing down a non-global executor instance.
func (g *parkGroup) close() {
	g.mu.Lock()
	g.closed = true
	idle := g.idle
	g.idle = nil
	for _, w := range idle {
		w.intent = false
		w.notified = true
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
	g.mu.Unlock()
}

func (g *parkGroup) popIdleLocked() *parkWorker {
	if len(g.idle) == 0 {
		return nil
	}
	w := g.idle[len(g.idle)-1]
	g.idle = g.idle[:len(g.idle)-1]
	w.intent = false
	return w
}

func (g *parkGroup) removeIdleLocked(w *parkWorker) {
	if !w.intent {
		return
	}
	for i, cand := range g.idle {
		if cand == w {
			g.idle = append(g.idle[:i], g.idle[i+1:]...)
			break
		}
	}
	w.intent = false
}

func (w *parkWorker) drainWake() {
	select {
	case <-w.wake:
	default:
	}
}

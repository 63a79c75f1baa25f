// Package errgroup mirrors the golang.org/x/sync/errgroup surface on
// top of the task executor, so call sites migrating onto the pool keep
// their Group-shaped code. Each function passed to Go occupies a worker
// for its full duration, so functions should be short or cooperative
// about the group context.
package errgroup

import (
	"context"
	"fmt"
	"sync"

	"github.com/NetPo4ki/go-executor/executor"
)

// Group runs a set of functions on the executor and collects the first
// error. A zero Group is valid, runs on the process-wide executor and
// never cancels on error.
type Group struct {
	e      *executor.Executor
	cancel context.CancelCauseFunc

	wg  sync.WaitGroup
	sem chan struct{}

	errOnce sync.Once
	err     error
}

// WithContext returns a Group on the process-wide executor. The derived
// context is cancelled the first time a function passed to Go returns a
// non-nil error, and again (with the final cause) when Wait returns.
func WithContext(ctx context.Context) (*Group, context.Context) {
	return WithContextOn(ctx, executor.Default())
}

// WithContextOn is WithContext against an explicit executor instance.
func WithContextOn(ctx context.Context, e *executor.Executor) (*Group, context.Context) {
	ctx, cancel := context.WithCancelCause(ctx)
	return &Group{e: e, cancel: cancel}, ctx
}

func (g *Group) exec() *executor.Executor {
	if g.e != nil {
		return g.e
	}
	return executor.Default()
}

// SetLimit bounds the number of functions running at once. It must be
// called before any Go call; a negative n removes the limit.
func (g *Group) SetLimit(n int) {
	if n < 0 {
		g.sem = nil
		return
	}
	if len(g.sem) != 0 {
		panic(fmt.Errorf("errgroup: modify limit while %v goroutines in the group are still active", len(g.sem)))
	}
	g.sem = make(chan struct{}, n)
}

// Go submits f as a high priority task. If a limit is set, Go blocks
// until a slot frees up.
func (g *Group) Go(f func() error) {
	if f == nil {
		return
	}
	if g.sem != nil {
		g.sem <- struct{}{}
	}
	g.spawn(f)
}

// TryGo submits f only if the limit allows it without blocking. It
// reports whether f was started.
func (g *Group) TryGo(f func() error) bool {
	if f == nil {
		return false
	}
	if g.sem != nil {
		select {
		case g.sem <- struct{}{}:
		default:
			return false
		}
	}
	g.spawn(f)
	return true
}

func (g *Group) spawn(f func() error) {
	g.wg.Add(1)
	executor.SpawnOn(g.exec(), executor.High, executor.Once(func() struct{} {
		defer g.done()
		if err := f(); err != nil {
			g.errOnce.Do(func() {
				g.err = err
				if g.cancel != nil {
					g.cancel(err)
				}
			})
		}
		return struct{}{}
	}))
}

func (g *Group) done() {
	if g.sem != nil {
		<-g.sem
	}
	g.wg.Done()
}

// Wait blocks until every submitted function has returned, then cancels
// the group context and returns the first error, if any.
func (g *Group) Wait() error {
	g.wg.Wait()
	if g.cancel != nil {
		g.cancel(g.err)
	}
	return g.err
}

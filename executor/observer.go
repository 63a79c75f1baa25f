package executor

import "time"

// Observer receives executor lifecycle events. Implementations must be
// safe for concurrent use and cheap: hooks run on the scheduling hot
// path. See observe/prom and observe/otel for ready-made backends.
type Observer interface {
	ScopeCreated(id string)
	ScopeDestroyed(id string, cancelled int)
	TaskSpawned(origin string, pri Priority, scoped bool)
	TaskFinished(origin string, blocked time.Duration, err error)
	WorkerParked(worker int)
	WorkerResumed(worker int)
}

type nopObserver struct{}

func (nopObserver) ScopeCreated(string)                          {}
func (nopObserver) ScopeDestroyed(string, int)                   {}
func (nopObserver) TaskSpawned(string, Priority, bool)           {}
func (nopObserver) TaskFinished(string, time.Duration, error)    {}
func (nopObserver) WorkerParked(int)                             {}
func (nopObserver) WorkerResumed(int)                            {}

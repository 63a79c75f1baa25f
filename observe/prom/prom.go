// Package prom exports executor lifecycle events as Prometheus metrics.
package prom

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/NetPo4ki/go-executor/executor"
)

// Metrics implements executor.Observer on top of a Prometheus registry.
// Pass it to executor.WithObserver or executor.SetObserver.
type Metrics struct {
	tasksSpawned  *prometheus.CounterVec
	tasksFinished *prometheus.CounterVec
	blockedSecs   prometheus.Counter

	scopesCreated   prometheus.Counter
	scopesDestroyed prometheus.Counter
	tasksCancelled  prometheus.Counter

	parkedWorkers prometheus.Gauge
}

// New registers the executor metric set on reg and returns the observer.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		tasksSpawned: f.NewCounterVec(prometheus.CounterOpts{
			Name: "executor_tasks_spawned_total",
			Help: "Tasks submitted, by priority and whether scope-bound.",
		}, []string{"priority", "scoped"}),
		tasksFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "executor_tasks_finished_total",
			Help: "Tasks resolved, by outcome.",
		}, []string{"outcome"}),
		blockedSecs: f.NewCounter(prometheus.CounterOpts{
			Name: "executor_tasks_blocked_seconds_total",
			Help: "Time finished tasks spent ready but unscheduled.",
		}),
		scopesCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "executor_scopes_created_total",
			Help: "Task scopes opened.",
		}),
		scopesDestroyed: f.NewCounter(prometheus.CounterOpts{
			Name: "executor_scopes_destroyed_total",
			Help: "Task scopes torn down.",
		}),
		tasksCancelled: f.NewCounter(prometheus.CounterOpts{
			Name: "executor_scope_tasks_cancelled_total",
			Help: "Scoped tasks force-cancelled at scope teardown.",
		}),
		parkedWorkers: f.NewGauge(prometheus.GaugeOpts{
			Name: "executor_parked_workers",
			Help: "Workers currently parked waiting for work.",
		}),
	}
}

func (m *Metrics) ScopeCreated(string) { m.scopesCreated.Inc() }

func (m *Metrics) ScopeDestroyed(_ string, cancelled int) {
	m.scopesDestroyed.Inc()
	m.tasksCancelled.Add(float64(cancelled))
}

func (m *Metrics) TaskSpawned(_ string, pri executor.Priority, scoped bool) {
	s := "false"
	if scoped {
		s = "true"
	}
	m.tasksSpawned.WithLabelValues(pri.String(), s).Inc()
}

func (m *Metrics) TaskFinished(_ string, blocked time.Duration, err error) {
	outcome := "ok"
	if errors.Is(err, executor.ErrCancelled) {
		outcome = "cancelled"
	} else if err != nil {
		outcome = "error"
	}
	m.tasksFinished.WithLabelValues(outcome).Inc()
	m.blockedSecs.Add(blocked.Seconds())
}

func (m *Metrics) WorkerParked(int)  { m.parkedWorkers.Inc() }
func (m *Metrics) WorkerResumed(int) { m.parkedWorkers.Dec() }

var _ executor.Observer = (*Metrics)(nil)

package otel

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/NetPo4ki/go-executor/executor"
)

const tracerName = "github.com/NetPo4ki/go-executor"

// Tracing implements executor.Observer by opening a span per task scope
// and recording task lifecycle as events. Unscoped task and worker
// events land on a long-lived background span so they are never lost.
type Tracing struct {
	tracer trace.Tracer

	mu     sync.Mutex
	scopes map[string]trace.Span

	bg trace.Span
}

// New builds a tracing observer against the globally registered tracer
// provider.
func New() *Tracing {
	tr := otel.Tracer(tracerName)
	_, bg := tr.Start(context.Background(), "executor")
	return &Tracing{
		tracer: tr,
		scopes: make(map[string]trace.Span),
		bg:     bg,
	}
}

// Shutdown ends the background span. Call it after the executor is done.
func (t *Tracing) Shutdown() {
	t.bg.End()
}

func (t *Tracing) ScopeCreated(id string) {
	_, span := t.tracer.Start(context.Background(), "executor.scope",
		trace.WithAttributes(attribute.String("scope.id", id)))
	t.mu.Lock()
	t.scopes[id] = span
	t.mu.Unlock()
}

func (t *Tracing) ScopeDestroyed(id string, cancelled int) {
	t.mu.Lock()
	span, ok := t.scopes[id]
	delete(t.scopes, id)
	t.mu.Unlock()
	if !ok {
		return
	}
	span.SetAttributes(attribute.Int("scope.tasks_cancelled", cancelled))
	span.End()
}

func (t *Tracing) TaskSpawned(origin string, pri executor.Priority, scoped bool) {
	t.bg.AddEvent("task.spawned", trace.WithAttributes(
		attribute.String("task.origin", origin),
		attribute.String("task.priority", pri.String()),
		attribute.Bool("task.scoped", scoped),
	))
}

func (t *Tracing) TaskFinished(origin string, blocked time.Duration, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, executor.ErrCancelled):
		outcome = "cancelled"
	case err != nil:
		outcome = "error"
	}
	attrs := []attribute.KeyValue{
		attribute.String("task.origin", origin),
		attribute.String("task.outcome", outcome),
		attribute.Int64("task.blocked_ns", blocked.Nanoseconds()),
	}
	t.bg.AddEvent("task.finished", trace.WithAttributes(attrs...))
	if err != nil && outcome == "error" {
		t.bg.RecordError(err)
	}
}

func (t *Tracing) WorkerParked(worker int) {
	t.bg.AddEvent("worker.parked", trace.WithAttributes(attribute.Int("worker.id", worker)))
}

func (t *Tracing) WorkerResumed(worker int) {
	t.bg.AddEvent("worker.resumed", trace.WithAttributes(attribute.Int("worker.id", worker)))
}

var _ executor.Observer = (*Tracing)(nil)

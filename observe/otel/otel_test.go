package otel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/NetPo4ki/go-executor/executor"
)

// Not parallel: tests swap the global tracer provider.

func newRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func TestScopeSpanLifecycle(t *testing.T) {
	rec := newRecorder(t)
	tr := New()
	defer tr.Shutdown()

	tr.ScopeCreated("scope-1")
	tr.ScopeDestroyed("scope-1", 2)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "executor.scope", spans[0].Name())
	require.Contains(t, spans[0].Attributes(), attribute.Int("scope.tasks_cancelled", 2))
}

func TestDestroyUnknownScopeIsNoop(t *testing.T) {
	rec := newRecorder(t)
	tr := New()
	defer tr.Shutdown()

	tr.ScopeDestroyed("never-created", 0)
	require.Empty(t, rec.Ended())
}

func TestTaskEventsOnBackgroundSpan(t *testing.T) {
	rec := newRecorder(t)
	tr := New()

	tr.TaskSpawned("a.go:1", executor.High, false)
	tr.TaskFinished("a.go:1", 5*time.Millisecond, nil)
	tr.WorkerParked(0)
	tr.WorkerResumed(0)
	tr.Shutdown()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	names := make([]string, 0, 4)
	for _, ev := range spans[0].Events() {
		names = append(names, ev.Name)
	}
	require.Equal(t, []string{"task.spawned", "task.finished", "worker.parked", "worker.resumed"}, names)
}

// Package otel mirrors executor lifecycle events into OpenTelemetry
// traces: one span per task scope, with task and worker events attached.
package otel

// Package tracing wires up OpenTelemetry spans for run execution: one span
// per Execute call tagged with run_id, and one child span per node dispatch
// tagged with node_id/node_kind, mirroring dshills-langgraph-go's
// OTelEmitter attribute conventions under a "workflow." namespace.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope registered spans are created
// under.
const TracerName = "workflow-engine"

// NewProvider builds a TracerProvider for serviceName and registers it as
// the global provider. Without a configured exporter, spans are created and
// sampled but not shipped anywhere; callers that need export wiring should
// attach a span processor with WithBatcher before calling this, or extend
// opts.
func NewProvider(serviceName string, opts ...sdktrace.TracerProviderOption) (*sdktrace.TracerProvider, error) {
	res, err := sdkresource.New(context.Background(),
		sdkresource.WithAttributes(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, err
	}

	allOpts := append([]sdktrace.TracerProviderOption{sdktrace.WithResource(res)}, opts...)
	tp := sdktrace.NewTracerProvider(allOpts...)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// Tracer returns the package-scoped tracer from the currently registered
// global TracerProvider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartRunSpan opens the top-level span for one Execute call.
func StartRunSpan(ctx context.Context, runID string) (context.Context, trace.Span) {
	ctx, span := Tracer().Start(ctx, "workflow.execute")
	span.SetAttributes(attribute.String("workflow.run_id", runID))
	return ctx, span
}

// StartNodeSpan opens a child span for one node dispatch within a run span.
func StartNodeSpan(ctx context.Context, runID, nodeID, nodeKind string) (context.Context, trace.Span) {
	ctx, span := Tracer().Start(ctx, "workflow.node")
	span.SetAttributes(
		attribute.String("workflow.run_id", runID),
		attribute.String("workflow.node_id", nodeID),
		attribute.String("workflow.node_kind", nodeKind),
	)
	return ctx, span
}

// EndWithError records err on span (if non-nil) and sets an error status
// before the caller ends the span, matching OTelEmitter's error handling.
func EndWithError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

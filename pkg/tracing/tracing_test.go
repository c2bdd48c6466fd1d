package tracing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/fluxpanel/workflow-engine/pkg/tracing"
)

func TestStartRunSpan_TagsRunID(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	_, err := tracing.NewProvider("workflow-engine-test", sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)

	_, span := tracing.StartRunSpan(context.Background(), "run-123")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "workflow.execute", spans[0].Name())

	found := false
	for _, attr := range spans[0].Attributes() {
		if string(attr.Key) == "workflow.run_id" && attr.Value.AsString() == "run-123" {
			found = true
		}
	}
	assert.True(t, found, "expected workflow.run_id attribute")
}

func TestStartNodeSpan_TagsNodeFields(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	_, err := tracing.NewProvider("workflow-engine-test", sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)

	_, span := tracing.StartNodeSpan(context.Background(), "run-123", "node-1", "llm")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "workflow.node", spans[0].Name())
}

func TestEndWithError_RecordsErrorStatus(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	_, err := tracing.NewProvider("workflow-engine-test", sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)

	_, span := tracing.StartNodeSpan(context.Background(), "run-123", "node-1", "llm")
	tracing.EndWithError(span, errors.New("boom"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "boom", spans[0].Status().Description)
}

func TestEndWithError_NilErrorIsNoop(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	_, err := tracing.NewProvider("workflow-engine-test", sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)

	_, span := tracing.StartNodeSpan(context.Background(), "run-123", "node-1", "llm")
	tracing.EndWithError(span, nil)
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Empty(t, spans[0].Status().Description)
}

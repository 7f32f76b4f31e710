package pipeline

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation name for pipeline tracing.
const tracerName = "github.com/MyCarrier-DevOps/goQAOrchestrator/pipeline"

// StartSpan starts a span for a Controller operation, tagging it with the
// pipeline identifier. Uses the globally registered tracer provider; with
// none registered the spans are no-ops.
func StartSpan(ctx context.Context, operation, pipelineID string) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "pipeline."+operation,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("pipeline.operation", operation),
			attribute.String("pipeline.id", pipelineID),
		),
	)
	return ctx, span
}

// recordSpanError marks the span failed and records the error.
func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

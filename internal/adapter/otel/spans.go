package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "tracelab"

// StartIngestSpan starts a span for one telemetry submission.
func StartIngestSpan(ctx context.Context, kind, source string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "ingest",
		trace.WithAttributes(
			attribute.String("telemetry.kind", kind),
			attribute.String("telemetry.source", source),
		),
	)
}

// StartExportSpan starts a span for a report export.
func StartExportSpan(ctx context.Context, experiment int64) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "export",
		trace.WithAttributes(attribute.Int64("experiment.id", experiment)),
	)
}

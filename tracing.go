package smax

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the otel instrumentation-library name this package reports
// spans under.
const tracerName = "github.com/smax-go/smax"

var tracer = otel.Tracer(tracerName)

// startSpan opens a span for a Client/PullQueue operation, tagged with the
// table/key it addresses. The caller must call the returned func to end it.
func startSpan(ctx context.Context, op, table, key string) (context.Context, func()) {
	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("smax.table", table),
		attribute.String("smax.key", key),
	))
	return ctx, func() { span.End() }
}

func recordSpanError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
}

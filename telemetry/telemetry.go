// Package telemetry wraps OpenTelemetry tracing around engine
// operations. The tract facade opens one span per Commit and per Compile
// call, with the tract id as attribute; merge, compress and gc calls are
// not traced.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/tractvcs/tract"

// Tracer is a thin handle over an otel tracer; the zero value is usable
// and traces against whatever global provider the host installed.
type Tracer struct {
	tr trace.Tracer
}

// New returns a Tracer bound to the globally-registered provider.
func New() *Tracer {
	return &Tracer{tr: otel.Tracer(tracerName)}
}

// NewProvider installs an in-process SDK tracer provider as the global
// one and returns it so the host can flush/shut it down. Hosts that
// already configure OpenTelemetry should skip this and just call New.
func NewProvider(opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp
}

// Start opens a span for one engine operation. Always pair with End:
//
//	ctx, span := tracer.Start(ctx, "compile", attribute.String("tract_id", id))
//	defer span.End()
func (t *Tracer) Start(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil || t.tr == nil {
		return otel.Tracer(tracerName).Start(ctx, operation, trace.WithAttributes(attrs...))
	}
	return t.tr.Start(ctx, operation, trace.WithAttributes(attrs...))
}

// RecordError marks the span failed and records err on it; nil errors
// are ignored so call sites stay unconditional.
func RecordError(span trace.Span, err error) {
	if err == nil || span == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

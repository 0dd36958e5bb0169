// Package trace provides a scoped span that pairs an OpenTelemetry span
// with enter/exit log events.
//
// A Span is a value owned by the operation that started it. Callers end it
// with a deferred End so it closes on every exit path, including errors:
//
//	ctx, span := trace.Start(ctx, tracer, logger, "countrydb.Lookup",
//	    attribute.String("key", key))
//	defer func() { span.End(err) }()
package trace

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// InstrumentationName is the tracer name used when no tracer is given.
const InstrumentationName = "github.com/hupe1980/countrydb"

// Span is a scoped operation span.
type Span struct {
	name   string
	span   trace.Span
	logger *slog.Logger
	start  time.Time
	attrs  []attribute.KeyValue
	ended  atomic.Bool
}

// Tracer returns a tracer from tp, falling back to the global provider.
func Tracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(InstrumentationName)
}

// Start opens a span and logs an enter event at debug level.
// A nil tracer or logger disables the corresponding half.
func Start(ctx context.Context, tracer trace.Tracer, logger *slog.Logger, name string, attrs ...attribute.KeyValue) (context.Context, *Span) {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer(InstrumentationName)
	}
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))

	s := &Span{
		name:   name,
		span:   span,
		logger: logger,
		start:  time.Now(),
		attrs:  attrs,
	}
	if logger != nil {
		logger.DebugContext(ctx, "enter", s.logArgs()...)
	}
	return ctx, s
}

// SetAttributes adds attributes to the span.
func (s *Span) SetAttributes(attrs ...attribute.KeyValue) {
	s.span.SetAttributes(attrs...)
	s.attrs = append(s.attrs, attrs...)
}

// End records err (if any) on the span, ends it and logs an exit event.
// Only the first call has an effect.
func (s *Span) End(err error) {
	if s.ended.Swap(true) {
		return
	}
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()

	if s.logger == nil {
		return
	}
	args := append(s.logArgs(), "duration", time.Since(s.start))
	if err != nil {
		args = append(args, "error", err)
	}
	s.logger.Debug("exit", args...)
}

func (s *Span) logArgs() []any {
	args := make([]any, 0, 2+2*len(s.attrs))
	args = append(args, "span", s.name)
	for _, a := range s.attrs {
		args = append(args, string(a.Key), a.Value.Emit())
	}
	return args
}

package interceptor

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/flowcore/command"
)

// instrumentationName is the scope name for flowcore spans and metrics.
const instrumentationName = "github.com/xraph/flowcore"

// TracingInterceptor wraps each command in a span.
type TracingInterceptor struct {
	command.Base
	tracer trace.Tracer
}

// Tracing returns a tracing interceptor using the global TracerProvider.
// Without a configured provider the noop tracer makes it a pass-through.
func Tracing() *TracingInterceptor {
	return TracingWithTracer(otel.Tracer(instrumentationName))
}

// TracingWithTracer returns a tracing interceptor using tracer.
func TracingWithTracer(tracer trace.Tracer) *TracingInterceptor {
	return &TracingInterceptor{tracer: tracer}
}

// Execute implements command.Interceptor.
func (t *TracingInterceptor) Execute(ctx context.Context, cfg command.Config, cmd command.Any) (any, error) {
	ctx, span := t.tracer.Start(ctx, "flowcore.command "+cmd.Name(),
		trace.WithAttributes(
			attribute.String("flowcore.command", cmd.Name()),
			attribute.String("flowcore.propagation", cfg.Propagation().String()),
			attribute.Bool("flowcore.context_reusable", cfg.ContextReusable()),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	out, err := t.Next().Execute(ctx, cfg, cmd)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return out, err
}

package interceptor

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/flowcore"
	"github.com/xraph/flowcore/command"
)

// MetricsInterceptor records per-command metrics.
//
// Instruments:
//   - flowcore.command.duration (Float64Histogram): seconds, by command and status
//   - flowcore.command.executions (Int64Counter): by command and status
//
// status is "ok", "conflict" for lost optimistic-lock races, or "error".
type MetricsInterceptor struct {
	command.Base
	duration   metric.Float64Histogram
	executions metric.Int64Counter
}

// Metrics returns a metrics interceptor using the global MeterProvider.
func Metrics() *MetricsInterceptor {
	return MetricsWithMeter(otel.Meter(instrumentationName))
}

// MetricsWithMeter returns a metrics interceptor using meter.
func MetricsWithMeter(meter metric.Meter) *MetricsInterceptor {
	// The API returns noop instruments alongside any error.
	duration, _ := meter.Float64Histogram(
		"flowcore.command.duration",
		metric.WithDescription("Duration of command execution in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"flowcore.command.executions",
		metric.WithDescription("Total number of command executions"),
		metric.WithUnit("{execution}"),
	)
	return &MetricsInterceptor{duration: duration, executions: executions}
}

// Execute implements command.Interceptor.
func (m *MetricsInterceptor) Execute(ctx context.Context, cfg command.Config, cmd command.Any) (any, error) {
	start := time.Now()
	out, err := m.Next().Execute(ctx, cfg, cmd)
	elapsed := time.Since(start).Seconds()

	status := "ok"
	switch {
	case errors.Is(err, flowcore.ErrConcurrentUpdate):
		status = "conflict"
	case err != nil:
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("command", cmd.Name()),
		attribute.String("status", status),
	)
	m.duration.Record(ctx, elapsed, attrs)
	m.executions.Add(ctx, 1, attrs)
	return out, err
}

package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/flowcore/ext"
	"github.com/xraph/flowcore/job"
)

const instrumentationName = "github.com/xraph/flowcore/observability"

// Compile-time interface checks.
var (
	_ ext.Extension        = (*MetricsExtension)(nil)
	_ ext.AcquisitionCycle = (*MetricsExtension)(nil)
	_ ext.JobAcquired      = (*MetricsExtension)(nil)
	_ ext.JobCompleted     = (*MetricsExtension)(nil)
	_ ext.JobRetrying      = (*MetricsExtension)(nil)
	_ ext.JobDead          = (*MetricsExtension)(nil)
)

// MetricsExtension records lifecycle metrics. Job counters carry the job
// type as the "job_type" attribute.
//
// Instruments:
//   - flowcore.acquisition.cycles (Int64Counter)
//   - flowcore.acquisition.duration (Float64Histogram, seconds)
//   - flowcore.job.acquired (Int64Counter)
//   - flowcore.job.completed (Int64Counter)
//   - flowcore.job.duration (Float64Histogram, seconds)
//   - flowcore.job.retried (Int64Counter)
//   - flowcore.job.dead (Int64Counter)
type MetricsExtension struct {
	AcquisitionCycles   metric.Int64Counter
	AcquisitionDuration metric.Float64Histogram
	JobAcquired         metric.Int64Counter
	JobCompleted        metric.Int64Counter
	JobDuration         metric.Float64Histogram
	JobRetried          metric.Int64Counter
	JobDead             metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(instrumentationName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension on meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	// The API returns noop instruments alongside any error.
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	histogram := func(name, desc string) metric.Float64Histogram {
		h, _ := meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
		return h
	}
	return &MetricsExtension{
		AcquisitionCycles:   counter("flowcore.acquisition.cycles", "Acquisition queries run"),
		AcquisitionDuration: histogram("flowcore.acquisition.duration", "Duration of acquisition cycles"),
		JobAcquired:         counter("flowcore.job.acquired", "Jobs locked by this node"),
		JobCompleted:        counter("flowcore.job.completed", "Jobs executed successfully"),
		JobDuration:         histogram("flowcore.job.duration", "Duration of successful job executions"),
		JobRetried:          counter("flowcore.job.retried", "Failed jobs rescheduled for retry"),
		JobDead:             counter("flowcore.job.dead", "Jobs that exhausted their retries"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Acquisition hooks ───────────────────────────────

// OnAcquisitionCycle implements ext.AcquisitionCycle.
func (m *MetricsExtension) OnAcquisitionCycle(ctx context.Context, _ int, elapsed time.Duration) error {
	m.AcquisitionCycles.Add(ctx, 1)
	m.AcquisitionDuration.Record(ctx, elapsed.Seconds())
	return nil
}

// OnJobAcquired implements ext.JobAcquired.
func (m *MetricsExtension) OnJobAcquired(ctx context.Context, j *job.Job) error {
	m.JobAcquired.Add(ctx, 1, jobAttrs(j))
	return nil
}

// ── Execution hooks ─────────────────────────────────

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	m.JobCompleted.Add(ctx, 1, jobAttrs(j))
	m.JobDuration.Record(ctx, elapsed.Seconds(), jobAttrs(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ error, _ time.Time) error {
	m.JobRetried.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobDead implements ext.JobDead.
func (m *MetricsExtension) OnJobDead(ctx context.Context, j *job.Job, _ error) error {
	m.JobDead.Add(ctx, 1, jobAttrs(j))
	return nil
}

func jobAttrs(j *job.Job) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("job_type", j.Type))
}

package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/flowcore/ext"
	"github.com/xraph/flowcore/id"
	"github.com/xraph/flowcore/job"
	"github.com/xraph/flowcore/observability"
)

func newTestExtension(t *testing.T) (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return observability.NewMetricsExtensionWithMeter(mp.Meter("test")), reader
}

func newTestJob() *job.Job {
	return &job.Job{ID: id.NewJobID(), Type: "send-email"}
}

// counter returns the total of the named Int64 sum.
func counter(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s is %T, not an int64 sum", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension(t)
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_Hooks(t *testing.T) {
	tests := []struct {
		name   string
		metric string
		fire   func(*observability.MetricsExtension) error
	}{
		{"acquisition cycle", "flowcore.acquisition.cycles", func(e *observability.MetricsExtension) error {
			return e.OnAcquisitionCycle(context.Background(), 3, time.Millisecond)
		}},
		{"acquired", "flowcore.job.acquired", func(e *observability.MetricsExtension) error {
			return e.OnJobAcquired(context.Background(), newTestJob())
		}},
		{"completed", "flowcore.job.completed", func(e *observability.MetricsExtension) error {
			return e.OnJobCompleted(context.Background(), newTestJob(), 100*time.Millisecond)
		}},
		{"retrying", "flowcore.job.retried", func(e *observability.MetricsExtension) error {
			return e.OnJobRetrying(context.Background(), newTestJob(), errors.New("boom"), time.Now())
		}},
		{"dead", "flowcore.job.dead", func(e *observability.MetricsExtension) error {
			return e.OnJobDead(context.Background(), newTestJob(), errors.New("boom"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, reader := newTestExtension(t)
			if err := tt.fire(e); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := counter(t, reader, tt.metric); got != 1 {
				t.Errorf("%s: want 1, got %d", tt.metric, got)
			}
		})
	}
}

func TestMetricsExtension_ThroughRegistry(t *testing.T) {
	e, reader := newTestExtension(t)
	r := ext.NewRegistry(nil)
	r.Register(e)

	ctx := context.Background()
	j := newTestJob()
	r.EmitJobAcquired(ctx, j)
	r.EmitJobStarted(ctx, j)
	r.EmitJobCompleted(ctx, j, time.Second)
	r.EmitJobAcquired(ctx, j)
	r.EmitJobRetrying(ctx, j, errors.New("x"), time.Now())

	if got := counter(t, reader, "flowcore.job.acquired"); got != 2 {
		t.Errorf("acquired: want 2, got %d", got)
	}
	if got := counter(t, reader, "flowcore.job.completed"); got != 1 {
		t.Errorf("completed: want 1, got %d", got)
	}
	if got := counter(t, reader, "flowcore.job.retried"); got != 1 {
		t.Errorf("retried: want 1, got %d", got)
	}
}

package interceptor_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/xraph/flowcore"
	"github.com/xraph/flowcore/command"
	"github.com/xraph/flowcore/interceptor"
	"github.com/xraph/flowcore/uow"
)

type recTx struct {
	committed  bool
	rolledBack bool
}

func (t *recTx) Commit(context.Context) error   { t.committed = true; return nil }
func (t *recTx) Rollback(context.Context) error { t.rolledBack = true; return nil }

type harness struct {
	txs []*recTx
	p   *command.Pipeline
}

func newHarness(t *testing.T, extra ...command.Interceptor) *harness {
	t.Helper()
	h := &harness{}
	newTx := func(context.Context) uow.Transaction {
		tx := &recTx{}
		h.txs = append(h.txs, tx)
		return tx
	}
	stages := append(extra, interceptor.UnitOfWork(nil, newTx, slog.New(slog.DiscardHandler)))
	p, err := command.NewPipeline(command.DefaultConfig(), stages...)
	require.NoError(t, err)
	h.p = p
	return h
}

func run(fn func(ctx context.Context, u *uow.UnitOfWork) error) command.Command[struct{}] {
	return command.NamedFunc("test", func(ctx context.Context, u *uow.UnitOfWork) (struct{}, error) {
		return struct{}{}, fn(ctx, u)
	})
}

func TestUnitOfWork_NestedRequiredJoins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var outer, inner *uow.UnitOfWork
	_, err := command.Execute(ctx, h.p, run(func(ctx context.Context, u *uow.UnitOfWork) error {
		outer = u
		_, err := command.Execute(ctx, h.p, run(func(_ context.Context, u *uow.UnitOfWork) error {
			inner = u
			return nil
		}))
		return err
	}))
	require.NoError(t, err)

	assert.Same(t, outer, inner)
	require.Len(t, h.txs, 1)
	assert.True(t, h.txs[0].committed)
}

func TestUnitOfWork_JoinedFailureIsCapturedInOuterUnit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	boom := errors.New("inner failure")

	_, err := command.Execute(ctx, h.p, run(func(ctx context.Context, u *uow.UnitOfWork) error {
		_, innerErr := command.Execute(ctx, h.p, run(func(context.Context, *uow.UnitOfWork) error {
			return boom
		}))
		assert.ErrorIs(t, innerErr, boom)
		assert.Same(t, boom, u.Err())
		return nil // swallowed, but the unit already captured it
	}))
	require.ErrorIs(t, err, boom)
	require.Len(t, h.txs, 1)
	assert.True(t, h.txs[0].rolledBack)
	assert.False(t, h.txs[0].committed)
}

func TestUnitOfWork_RequiresNewIsolatesOuterUnit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	boom := errors.New("inner failure")

	var outer, inner *uow.UnitOfWork
	_, err := command.Execute(ctx, h.p, run(func(ctx context.Context, u *uow.UnitOfWork) error {
		outer = u
		_, innerErr := command.ExecuteWith(ctx, h.p, command.RequiresNewConfig(),
			run(func(_ context.Context, u *uow.UnitOfWork) error {
				inner = u
				return boom
			}))
		assert.ErrorIs(t, innerErr, boom)
		assert.NoError(t, outer.Err())
		return nil
	}))
	require.NoError(t, err)

	assert.NotSame(t, outer, inner)
	require.Len(t, h.txs, 2)
	assert.True(t, h.txs[0].committed, "outer commits")
	assert.True(t, h.txs[1].rolledBack, "inner rolls back")
	assert.True(t, inner.Closed())
}

func TestUnitOfWork_NotSupportedIsNeverJoined(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var outer, inner *uow.UnitOfWork
	_, err := command.ExecuteWith(ctx, h.p, command.NotSupportedConfig(),
		run(func(ctx context.Context, u *uow.UnitOfWork) error {
			outer = u
			_, err := command.Execute(ctx, h.p, run(func(_ context.Context, u *uow.UnitOfWork) error {
				inner = u
				return nil
			}))
			return err
		}))
	require.NoError(t, err)
	assert.NotSame(t, outer, inner)
	assert.Len(t, h.txs, 2)
}

func TestUnitOfWork_PanicBecomesPanicError(t *testing.T) {
	h := newHarness(t)

	_, err := command.Execute(context.Background(), h.p, run(func(context.Context, *uow.UnitOfWork) error {
		panic("kaboom")
	}))

	var pe *flowcore.PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "kaboom", pe.Value)
	assert.NotEmpty(t, pe.Stack)
	require.Len(t, h.txs, 1)
	assert.True(t, h.txs[0].rolledBack)
}

func conflict() error {
	return &flowcore.ConcurrentUpdateError{Entity: "job", ID: "job_1", Revision: 1}
}

func TestRetry_RerunsConcurrentUpdateInFreshUnit(t *testing.T) {
	h := newHarness(t, interceptor.Retry(3, 0, slog.New(slog.DiscardHandler)))

	calls := 0
	_, err := command.Execute(context.Background(), h.p, run(func(context.Context, *uow.UnitOfWork) error {
		calls++
		if calls < 3 {
			return conflict()
		}
		return nil
	}))
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	require.Len(t, h.txs, 3)
	assert.True(t, h.txs[0].rolledBack)
	assert.True(t, h.txs[1].rolledBack)
	assert.True(t, h.txs[2].committed)
}

func TestRetry_GivesUpAfterAttempts(t *testing.T) {
	h := newHarness(t, interceptor.Retry(2, 0, slog.New(slog.DiscardHandler)))

	calls := 0
	_, err := command.Execute(context.Background(), h.p, run(func(context.Context, *uow.UnitOfWork) error {
		calls++
		return conflict()
	}))
	require.ErrorIs(t, err, flowcore.ErrConcurrentUpdate)
	assert.Equal(t, 3, calls)
}

func TestRetry_IgnoresBusinessFailures(t *testing.T) {
	h := newHarness(t, interceptor.Retry(3, 0, slog.New(slog.DiscardHandler)))
	boom := errors.New("boom")

	calls := 0
	_, err := command.Execute(context.Background(), h.p, run(func(context.Context, *uow.UnitOfWork) error {
		calls++
		return boom
	}))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetry_DoesNotRetryJoinedCommand(t *testing.T) {
	h := newHarness(t, interceptor.Retry(3, 0, slog.New(slog.DiscardHandler)))

	inner, outer := 0, 0
	_, err := command.Execute(context.Background(), h.p, run(func(ctx context.Context, _ *uow.UnitOfWork) error {
		outer++
		_, err := command.Execute(ctx, h.p, run(func(context.Context, *uow.UnitOfWork) error {
			inner++
			if outer == 1 {
				return conflict()
			}
			return nil
		}))
		return err
	}))
	require.NoError(t, err)
	assert.Equal(t, 2, outer, "the enclosing command is retried")
	assert.Equal(t, 2, inner, "one inner run per outer run")
}

func TestTracing_RecordsSpanPerCommand(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	h := newHarness(t, interceptor.TracingWithTracer(tp.Tracer("test")))
	boom := errors.New("boom")

	_, err := command.Execute(context.Background(), h.p, run(func(context.Context, *uow.UnitOfWork) error {
		return boom
	}))
	require.ErrorIs(t, err, boom)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "flowcore.command test", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.String("flowcore.propagation", "required"))
}

func TestMetrics_ClassifiesConflicts(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	h := newHarness(t, interceptor.MetricsWithMeter(mp.Meter("test")))

	_, err := command.Execute(context.Background(), h.p, run(func(context.Context, *uow.UnitOfWork) error {
		return conflict()
	}))
	require.Error(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var sum metricdata.Sum[int64]
	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == "flowcore.command.executions" {
				sum, found = m.Data.(metricdata.Sum[int64])
			}
		}
	}
	require.True(t, found)
	require.Len(t, sum.DataPoints, 1)
	status, ok := sum.DataPoints[0].Attributes.Value("status")
	require.True(t, ok)
	assert.Equal(t, "conflict", status.AsString())
}

func TestLog_LogsFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := newHarness(t, interceptor.Log(logger))

	_, err := command.Execute(context.Background(), h.p, run(func(context.Context, *uow.UnitOfWork) error {
		return errors.New("boom")
	}))
	require.Error(t, err)
	assert.Contains(t, buf.String(), "command started")
	assert.Contains(t, buf.String(), "command failed")
	assert.Contains(t, buf.String(), "error=boom")
}

func TestLog_RacesLoggedBelowError(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		level string
	}{
		{"job locked elsewhere", fmt.Errorf("lock job_1: %w", flowcore.ErrJobLocked), "level=DEBUG"},
		{"concurrent update", &flowcore.ConcurrentUpdateError{Entity: "job", ID: "job_1", Revision: 2}, "level=WARN"},
		{"anything else", errors.New("boom"), "level=ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
			h := newHarness(t, interceptor.Log(logger))

			_, err := command.Execute(context.Background(), h.p, run(func(context.Context, *uow.UnitOfWork) error {
				return tc.err
			}))
			require.ErrorIs(t, err, tc.err)

			var failed string
			for _, line := range strings.Split(buf.String(), "\n") {
				if strings.Contains(line, "command failed") {
					failed = line
				}
			}
			require.NotEmpty(t, failed)
			assert.Contains(t, failed, tc.level)
		})
	}
}

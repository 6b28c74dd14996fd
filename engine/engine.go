package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/flowcore"
	"github.com/xraph/flowcore/acquisition"
	"github.com/xraph/flowcore/clock"
	"github.com/xraph/flowcore/command"
	"github.com/xraph/flowcore/ext"
	"github.com/xraph/flowcore/history"
	"github.com/xraph/flowcore/id"
	"github.com/xraph/flowcore/interceptor"
	"github.com/xraph/flowcore/job"
	"github.com/xraph/flowcore/notify"
	"github.com/xraph/flowcore/observability"
	"github.com/xraph/flowcore/uow"
	"github.com/xraph/flowcore/worker"
)

const instrumentationName = "github.com/xraph/flowcore"

// notifierRunner is implemented by notifiers that need a receive loop,
// such as notify.Redis.
type notifierRunner interface {
	Run(ctx context.Context) error
}

// Engine is one flowcore node: a command pipeline over a job store, an
// acquisition loop and an execution pool.
type Engine struct {
	config       flowcore.Config
	logger       *slog.Logger
	clock        clock.Clock
	store        job.Store
	historyStore history.Store
	notifier     notify.Notifier
	handlers     []job.Handler
	exts         []ext.Extension
	interceptors []command.Interceptor

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	extensions *ext.Registry
	registry   *job.Registry
	pipeline   *command.Pipeline
	executor   *worker.Executor
	pool       *worker.Pool
	acquirer   *acquisition.Acquirer

	mu      sync.Mutex
	state   lifecycle
	cancel  context.CancelFunc
	running *errgroup.Group
}

type lifecycle int

const (
	stateNew lifecycle = iota
	stateRunning
	stateStopped
)

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the default configuration.
func WithConfig(cfg flowcore.Config) Option {
	return func(eng *Engine) { eng.config = cfg }
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithClock sets the clock used for due dates, leases and history.
func WithClock(c clock.Clock) Option {
	return func(eng *Engine) { eng.clock = c }
}

// WithNotifier sets the notifier that wakes the acquisition loop when jobs
// are committed. The default is an in-process notify.Local.
func WithNotifier(n notify.Notifier) Option {
	return func(eng *Engine) { eng.notifier = n }
}

// WithHistoryStore sends history records to s. When the job store's
// transactions can write history themselves, records go there instead.
func WithHistoryStore(s history.Store) Option {
	return func(eng *Engine) { eng.historyStore = s }
}

// WithExtension registers a lifecycle extension.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.exts = append(eng.exts, e) }
}

// WithInterceptor appends an interceptor. Custom interceptors run inside
// the unit of work, after the built-in chain.
func WithInterceptor(i command.Interceptor) Option {
	return func(eng *Engine) { eng.interceptors = append(eng.interceptors, i) }
}

// WithHandlers registers job handlers. A job type may be registered once.
func WithHandlers(handlers ...job.Handler) Option {
	return func(eng *Engine) { eng.handlers = append(eng.handlers, handlers...) }
}

// WithTracerProvider sets a custom OTel TracerProvider for command spans.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for both the command
// metrics interceptor and the job metrics extension.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// New builds an engine over store. If store also implements history.Store
// and no history store was given, it receives history records too.
func New(store job.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, flowcore.ErrNoStore
	}

	eng := &Engine{
		config: flowcore.DefaultConfig(),
		logger: slog.Default(),
		clock:  clock.System{},
		store:  store,
	}
	for _, opt := range opts {
		opt(eng)
	}
	if err := eng.config.Validate(); err != nil {
		return nil, err
	}
	if eng.historyStore == nil {
		if hs, ok := store.(history.Store); ok {
			eng.historyStore = hs
		}
	}
	if eng.notifier == nil {
		eng.notifier = notify.NewLocal()
	}

	registry, err := job.NewRegistry(eng.handlers...)
	if err != nil {
		return nil, err
	}
	eng.registry = registry

	eng.extensions = ext.NewRegistry(eng.logger)
	eng.extensions.Register(eng.metricsExtension())
	for _, e := range eng.exts {
		eng.extensions.Register(e)
	}

	if eng.pipeline, err = eng.buildPipeline(); err != nil {
		return nil, err
	}

	eng.executor = worker.NewExecutor(eng.pipeline, eng.registry,
		worker.WithExecutorConfig(eng.config),
		worker.WithExecutorExtensions(eng.extensions),
		worker.WithExecutorLogger(eng.logger),
	)
	eng.pool = worker.NewPool(eng.executor,
		worker.WithPoolConfig(eng.config),
		worker.WithPoolLogger(eng.logger),
	)
	eng.acquirer = acquisition.NewAcquirer(eng.pipeline, eng.pool,
		acquisition.WithConfig(eng.config),
		acquisition.WithWakeup(eng.notifier.C()),
		acquisition.WithExtensions(eng.extensions),
		acquisition.WithLogger(eng.logger),
	)

	return eng, nil
}

// buildPipeline assembles the default chain, outermost first: log,
// tracing, metrics, retry on concurrent update, unit of work, then any
// custom interceptors.
func (eng *Engine) buildPipeline() (*command.Pipeline, error) {
	factories, err := uow.NewSessionFactories(
		job.NewSessionFactory(job.SessionOptions{
			Clock:          eng.clock,
			Notifier:       eng.notifier,
			DefaultRetries: eng.config.DefaultRetries,
			BatchSize:      eng.config.InsertBatchSize,
		}),
		history.NewSessionFactory(history.SessionOptions{
			Store:  eng.historyStore,
			Clock:  eng.clock,
			Logger: eng.logger,
		}),
	)
	if err != nil {
		return nil, err
	}

	var tracing *interceptor.TracingInterceptor
	if eng.tracerProvider != nil {
		tracing = interceptor.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracing = interceptor.Tracing()
	}

	var metrics *interceptor.MetricsInterceptor
	if eng.meterProvider != nil {
		metrics = interceptor.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	} else {
		metrics = interceptor.Metrics()
	}

	chain := []command.Interceptor{
		interceptor.Log(eng.logger),
		tracing,
		metrics,
		interceptor.Retry(eng.config.CommandRetries, eng.config.CommandRetryWait, eng.logger),
		interceptor.UnitOfWork(factories, job.TransactionFactory(eng.store), eng.logger),
	}
	chain = append(chain, eng.interceptors...)

	return command.NewPipeline(command.DefaultConfig(), chain...)
}

func (eng *Engine) metricsExtension() *observability.MetricsExtension {
	if eng.meterProvider != nil {
		return observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	}
	return observability.NewMetricsExtension()
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Start checks the store, starts the execution pool and runs the
// acquisition loop in the background. An engine starts once.
func (eng *Engine) Start(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	if eng.state != stateNew {
		return flowcore.Configurationf("engine cannot be started twice")
	}
	if err := eng.store.Ping(ctx); err != nil {
		return fmt.Errorf("flowcore: ping store: %w", err)
	}
	if err := eng.pool.Start(ctx); err != nil {
		return fmt.Errorf("flowcore: start pool: %w", err)
	}

	// Background loops outlive the Start call but not Stop.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return eng.acquirer.Run(gctx) })
	if r, ok := eng.notifier.(notifierRunner); ok {
		// Without the receive loop, cross-node wake-ups stop and polling
		// carries on, so its failure is logged rather than fatal.
		g.Go(func() error {
			if err := r.Run(gctx); err != nil {
				eng.logger.Warn("notifier stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	eng.cancel = cancel
	eng.running = g
	eng.state = stateRunning

	eng.logger.Info("flowcore engine started",
		slog.String("lock_owner", eng.acquirer.Owner()),
		slog.Int("core_pool_size", eng.config.CorePoolSize),
		slog.Int("max_pool_size", eng.config.MaxPoolSize),
		slog.Any("job_types", eng.registry.Types()),
	)
	return nil
}

// Stop ends acquisition, then drains the pool within ShutdownTimeout or
// ctx's deadline, whichever comes first. Jobs still running when the
// deadline passes are cancelled; their leases expire and another node
// picks them up. Stop does not close the store.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	if eng.state != stateRunning {
		return nil
	}
	eng.state = stateStopped

	var errs []error

	eng.cancel()
	if err := eng.running.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		errs = append(errs, fmt.Errorf("flowcore: acquisition loop: %w", err))
	}

	stopCtx := ctx
	if eng.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		stopCtx, cancel = context.WithTimeout(ctx, eng.config.ShutdownTimeout)
		defer cancel()
	}
	if err := eng.pool.Stop(stopCtx); err != nil {
		eng.logger.Error("pool stop error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	eng.extensions.EmitShutdown(ctx)
	eng.logger.Info("flowcore engine stopped", slog.String("lock_owner", eng.acquirer.Owner()))

	return errors.Join(errs...)
}

// ──────────────────────────────────────────────────
// Commands
// ──────────────────────────────────────────────────

// Execute runs c through the engine's pipeline with the default
// configuration: it joins the unit of work bound in ctx, if any.
func Execute[R any](ctx context.Context, eng *Engine, c command.Command[R]) (R, error) {
	return command.Execute(ctx, eng.pipeline, c)
}

// ExecuteWith runs c with an explicit propagation configuration.
func ExecuteWith[R any](ctx context.Context, eng *Engine, cfg command.Config, c command.Command[R]) (R, error) {
	return command.ExecuteWith(ctx, eng.pipeline, cfg, c)
}

// CreateTimer schedules a timer job.
func (eng *Engine) CreateTimer(ctx context.Context, spec job.TimerSpec) (*job.Job, error) {
	return Execute(ctx, eng, job.CreateTimer(spec))
}

// ScheduleMessage schedules an asynchronous continuation, due now.
func (eng *Engine) ScheduleMessage(ctx context.Context, j *job.Job) (*job.Job, error) {
	return Execute(ctx, eng, job.ScheduleMessage(j))
}

// GetJob returns a job by id.
func (eng *Engine) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return Execute(ctx, eng, job.GetJob(jobID))
}

// ListJobs returns the jobs matching q.
func (eng *Engine) ListJobs(ctx context.Context, q job.Query) ([]*job.Job, error) {
	return Execute(ctx, eng, job.ListJobs(q))
}

// ListDeadJobs returns the jobs matching q that have no retries left.
func (eng *Engine) ListDeadJobs(ctx context.Context, q job.Query) ([]*job.Job, error) {
	return Execute(ctx, eng, job.ListDeadJobs(q))
}

// SetRetries gives a job a new retry budget and makes it due now.
func (eng *Engine) SetRetries(ctx context.Context, jobID id.JobID, retries int) (*job.Job, error) {
	return Execute(ctx, eng, job.SetRetries(jobID, retries))
}

// DeleteJob removes a job.
func (eng *Engine) DeleteJob(ctx context.Context, jobID id.JobID) error {
	_, err := Execute(ctx, eng, job.DeleteJob(jobID))
	return err
}

// History lists execution records. It returns nil when no history store
// is configured.
func (eng *Engine) History(ctx context.Context, q history.Query) ([]*history.Record, error) {
	if eng.historyStore == nil {
		return nil, nil
	}
	return eng.historyStore.ListRecords(ctx, q)
}

// RunDue acquires one batch of due jobs and executes it on the calling
// goroutine, bypassing the pool. It returns the number of jobs acquired.
func (eng *Engine) RunDue(ctx context.Context) (int, error) {
	start := time.Now()
	batch, err := eng.acquirer.AcquireOnce(ctx)
	if err != nil {
		return 0, err
	}
	for _, g := range batch.Groups {
		eng.executor.RunGroup(ctx, g)
	}
	eng.logger.Debug("ran due jobs",
		slog.Int("acquired", batch.Acquired()),
		slog.Duration("elapsed", time.Since(start)),
	)
	return batch.Acquired(), ctx.Err()
}

// ──────────────────────────────────────────────────
// Accessors
// ──────────────────────────────────────────────────

// Config returns a copy of the engine's configuration.
func (eng *Engine) Config() flowcore.Config { return eng.config }

// Pipeline returns the command pipeline.
func (eng *Engine) Pipeline() *command.Pipeline { return eng.pipeline }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job handler registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Pool returns the execution pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Acquirer returns the acquisition loop.
func (eng *Engine) Acquirer() *acquisition.Acquirer { return eng.acquirer }

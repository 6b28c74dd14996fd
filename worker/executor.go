package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/flowcore"
	"github.com/xraph/flowcore/acquisition"
	"github.com/xraph/flowcore/backoff"
	"github.com/xraph/flowcore/command"
	"github.com/xraph/flowcore/ext"
	"github.com/xraph/flowcore/id"
	"github.com/xraph/flowcore/job"
)

// Executor runs acquired jobs through the command pipeline, one unit of
// work per job, and records failures.
type Executor struct {
	pipeline   *command.Pipeline
	handlers   *job.Registry
	extensions *ext.Registry
	backoff    backoff.Strategy
	owner      string
	retries    int
	maxAtt     int
	history    bool
	logger     *slog.Logger
}

var _ Runner = (*Executor)(nil)

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorConfig copies the execution settings of cfg.
func WithExecutorConfig(cfg flowcore.Config) ExecutorOption {
	return func(e *Executor) {
		e.owner = cfg.LockOwner
		e.retries = cfg.DefaultRetries
		e.maxAtt = cfg.MaxAttempts
		e.history = cfg.HistoryEnabled
		// An unknown strategy is rejected by Config.Validate.
		if s, err := backoff.FromConfig(cfg.RetryBackoff); err == nil {
			e.backoff = s
		}
	}
}

// WithBackoff sets the strategy pushing back the due date of failed jobs.
func WithBackoff(s backoff.Strategy) ExecutorOption {
	return func(e *Executor) { e.backoff = s }
}

// WithExecutorExtensions sets the registry receiving execution events.
func WithExecutorExtensions(r *ext.Registry) ExecutorOption {
	return func(e *Executor) { e.extensions = r }
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor creates an Executor running handlers from registry.
func NewExecutor(p *command.Pipeline, handlers *job.Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{pipeline: p, handlers: handlers}
	WithExecutorConfig(flowcore.DefaultConfig())(e)
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.extensions == nil {
		e.extensions = ext.NewRegistry(e.logger)
	}
	return e
}

// RunGroup implements Runner. The jobs of a group run one after another;
// a failing job does not stop its siblings. Cancellation leaves the
// remaining jobs locked until their lease expires.
func (e *Executor) RunGroup(ctx context.Context, g acquisition.Group) {
	for _, j := range g.Jobs {
		if ctx.Err() != nil {
			return
		}
		_ = e.Execute(ctx, j.ID)
	}
}

// Execute runs the job in a fresh unit of work. On failure the outcome is
// recorded by FailureCmd and the failure returned.
func (e *Executor) Execute(ctx context.Context, jobID id.JobID) error {
	start := time.Now()
	res, err := command.ExecuteWith(ctx, e.pipeline, command.RequiresNewConfig(), &ExecuteCmd{
		JobID:      jobID,
		Owner:      e.owner,
		Handlers:   e.handlers,
		Retries:    e.retries,
		History:    e.history,
		Extensions: e.extensions,
	})
	elapsed := time.Since(start)
	if err == nil {
		if !res.Skipped {
			e.extensions.EmitJobCompleted(ctx, res.Job, elapsed)
		}
		return nil
	}

	e.logger.Debug("job execution failed",
		slog.String("job_id", jobID.String()),
		slog.String("error", err.Error()),
	)
	e.recordFailure(ctx, jobID, err, elapsed)
	return err
}

func (e *Executor) recordFailure(ctx context.Context, jobID id.JobID, jobErr error, elapsed time.Duration) {
	res, err := command.ExecuteWith(ctx, e.pipeline, command.RequiresNewConfig(), &FailureCmd{
		JobID:       jobID,
		Owner:       e.owner,
		Err:         jobErr,
		Backoff:     e.backoff,
		MaxAttempts: e.maxAtt,
		History:     e.history,
		Elapsed:     elapsed,
	})
	if err != nil {
		// The job stays locked and is retried once the lease expires.
		e.logger.Error("failed to record job failure",
			slog.String("job_id", jobID.String()),
			slog.String("job_error", jobErr.Error()),
			slog.String("error", err.Error()),
		)
		return
	}
	if res.Skipped {
		return
	}

	if res.Dead {
		e.extensions.EmitJobDead(ctx, res.Job, jobErr)
		e.logger.Warn("job has no retries left",
			slog.String("job_id", jobID.String()),
			slog.String("job_type", res.Job.Type),
			slog.Int("attempts", res.Job.Attempts),
			slog.String("error", jobErr.Error()),
		)
		return
	}
	e.extensions.EmitJobRetrying(ctx, res.Job, jobErr, res.Job.DueDate)
	e.logger.Info("job scheduled for retry",
		slog.String("job_id", jobID.String()),
		slog.String("job_type", res.Job.Type),
		slog.Int("attempt", res.Job.Attempts),
		slog.Int("retries_left", res.Job.Retries),
		slog.Time("due_date", res.Job.DueDate),
	)
}

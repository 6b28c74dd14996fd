package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/flowcore/job"
)

// entry pairs a hook implementation with the extension name captured at
// registration time, so emitters never assert back to Extension.
type entry[H any] struct {
	name string
	hook H
}

// Registry holds registered extensions and dispatches lifecycle events to
// them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Registration happens while the engine is built; emitting is safe from
// any number of goroutines afterwards.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	acquisitionCycle []entry[AcquisitionCycle]
	jobAcquired      []entry[JobAcquired]
	jobStarted       []entry[JobStarted]
	jobCompleted     []entry[JobCompleted]
	jobRetrying      []entry[JobRetrying]
	jobDead          []entry[JobDead]
	shutdown         []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into every hook it
// implements.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(AcquisitionCycle); ok {
		r.acquisitionCycle = append(r.acquisitionCycle, entry[AcquisitionCycle]{name, h})
	}
	if h, ok := e.(JobAcquired); ok {
		r.jobAcquired = append(r.jobAcquired, entry[JobAcquired]{name, h})
	}
	if h, ok := e.(JobStarted); ok {
		r.jobStarted = append(r.jobStarted, entry[JobStarted]{name, h})
	}
	if h, ok := e.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, entry[JobCompleted]{name, h})
	}
	if h, ok := e.(JobRetrying); ok {
		r.jobRetrying = append(r.jobRetrying, entry[JobRetrying]{name, h})
	}
	if h, ok := e.(JobDead); ok {
		r.jobDead = append(r.jobDead, entry[JobDead]{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, entry[Shutdown]{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Acquisition event emitters
// ──────────────────────────────────────────────────

// EmitAcquisitionCycle notifies all extensions that implement AcquisitionCycle.
func (r *Registry) EmitAcquisitionCycle(ctx context.Context, acquired int, elapsed time.Duration) {
	for _, e := range r.acquisitionCycle {
		if err := e.hook.OnAcquisitionCycle(ctx, acquired, elapsed); err != nil {
			r.logHookError("OnAcquisitionCycle", e.name, err)
		}
	}
}

// EmitJobAcquired notifies all extensions that implement JobAcquired.
func (r *Registry) EmitJobAcquired(ctx context.Context, j *job.Job) {
	for _, e := range r.jobAcquired {
		if err := e.hook.OnJobAcquired(ctx, j); err != nil {
			r.logHookError("OnJobAcquired", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Execution event emitters
// ──────────────────────────────────────────────────

// EmitJobStarted notifies all extensions that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		if err := e.hook.OnJobStarted(ctx, j); err != nil {
			r.logHookError("OnJobStarted", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobRetrying notifies all extensions that implement JobRetrying.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, jobErr error, nextDue time.Time) {
	for _, e := range r.jobRetrying {
		if err := e.hook.OnJobRetrying(ctx, j, jobErr, nextDue); err != nil {
			r.logHookError("OnJobRetrying", e.name, err)
		}
	}
}

// EmitJobDead notifies all extensions that implement JobDead.
func (r *Registry) EmitJobDead(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobDead {
		if err := e.hook.OnJobDead(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobDead", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Hook errors never propagate into the job's outcome.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}

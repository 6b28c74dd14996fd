// Package ext defines the lifecycle hooks of the flowcore engine. Each hook
// is a separate interface so an extension opts in only to the events it
// cares about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/flowcore/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Acquisition hooks
// ──────────────────────────────────────────────────

// AcquisitionCycle is called after every acquisition cycle that ran its
// query, with the number of jobs locked by this node.
type AcquisitionCycle interface {
	OnAcquisitionCycle(ctx context.Context, acquired int, elapsed time.Duration) error
}

// JobAcquired is called once per job locked by this node.
type JobAcquired interface {
	OnJobAcquired(ctx context.Context, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Execution hooks
// ──────────────────────────────────────────────────

// JobStarted is called when a worker begins executing a job.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job's unit of work committed.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobRetrying is called when a failed job still has retries left and was
// rescheduled for nextDue.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, err error, nextDue time.Time) error
}

// JobDead is called when a failure consumed the job's last retry.
type JobDead interface {
	OnJobDead(ctx context.Context, j *job.Job, err error) error
}

// Shutdown is called while the engine stops.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}

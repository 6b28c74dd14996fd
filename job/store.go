package job

import (
	"context"
	"time"

	"github.com/xraph/flowcore/id"
)

// Query filters management listings. Zero fields match everything.
type Query struct {
	Type              string
	ProcessInstanceID string
	ExecutionID       string
	TenantID          string
	// OnlyDead restricts the result to jobs with no retries left.
	OnlyDead bool
	// Limit caps the result. Zero means no limit.
	Limit  int
	Offset int
}

// Matches reports whether j satisfies every filter of q.
func (q Query) Matches(j *Job) bool {
	switch {
	case q.Type != "" && j.Type != q.Type:
		return false
	case q.ProcessInstanceID != "" && j.ProcessInstanceID != q.ProcessInstanceID:
		return false
	case q.ExecutionID != "" && j.ExecutionID != q.ExecutionID:
		return false
	case q.TenantID != "" && j.TenantID != q.TenantID:
		return false
	case q.OnlyDead && !j.IsDead():
		return false
	}
	return true
}

// Store is the persistence backend for jobs.
type Store interface {
	// Begin starts a transaction. All job reads and writes of one unit of
	// work go through it.
	Begin(ctx context.Context) (Tx, error)
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Tx is one store transaction. Writes made by an uncommitted Tx are not
// visible to others; a competing write to a row held by another open Tx
// must affect zero rows (or wait for that Tx and then re-check the
// revision) rather than overwrite it.
type Tx interface {
	// GetJob returns flowcore.ErrJobNotFound for an unknown id.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// FindDueJobs returns up to limit jobs with due_date <= now, retries > 0
	// and no lease or a lease expired before now, ordered by due date
	// then id.
	FindDueJobs(ctx context.Context, now time.Time, limit int) ([]*Job, error)

	// FindExclusiveJobs returns every exclusive job of the process
	// instance with due_date <= now and retries > 0, locked or not,
	// ordered by due date then id.
	FindExclusiveJobs(ctx context.Context, processInstanceID string, now time.Time) ([]*Job, error)

	FindJobs(ctx context.Context, q Query) ([]*Job, error)
	CountJobs(ctx context.Context, q Query) (int64, error)

	InsertJob(ctx context.Context, j *Job) error
	InsertJobs(ctx context.Context, js []*Job) error

	// UpdateJob writes j where the stored revision equals j.Rev and stores
	// j.Rev+1. It returns the number of rows affected.
	UpdateJob(ctx context.Context, j *Job) (int64, error)

	// DeleteJob removes j where the stored revision equals j.Rev.
	DeleteJob(ctx context.Context, j *Job) (int64, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

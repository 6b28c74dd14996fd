package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/xraph/flowcore"
	"github.com/xraph/flowcore/backoff"
	"github.com/xraph/flowcore/ext"
	"github.com/xraph/flowcore/history"
	"github.com/xraph/flowcore/id"
	"github.com/xraph/flowcore/job"
	"github.com/xraph/flowcore/uow"
)

// maxExceptionMessage bounds the exception message stored on a job.
const maxExceptionMessage = 4000

// ExecuteResult describes a job run by ExecuteCmd.
type ExecuteResult struct {
	// Job is the job as it was executed. Nil when Skipped.
	Job *job.Job
	// Next is the follow-up of a repeating timer, if one was scheduled.
	Next *job.Job
	// Skipped is set when the job was gone or no longer leased to this
	// node, so nothing ran.
	Skipped bool
}

// ExecuteCmd runs one leased job and deletes it in the same unit of work.
// A handler error fails the command, which rolls back everything the
// handler staged.
type ExecuteCmd struct {
	JobID    id.JobID
	Owner    string
	Handlers *job.Registry

	// Retries is the budget given to the follow-up of a repeating timer.
	Retries    int
	History    bool
	Extensions *ext.Registry
}

// Name implements command.Named.
func (c *ExecuteCmd) Name() string { return "execute_job" }

// Execute implements command.Command.
func (c *ExecuteCmd) Execute(ctx context.Context, u *uow.UnitOfWork) (ExecuteResult, error) {
	s, err := job.SessionFrom(ctx, u)
	if err != nil {
		return ExecuteResult{}, err
	}
	j, ok, err := leased(ctx, u, s, c.JobID, c.Owner)
	if err != nil || !ok {
		return ExecuteResult{Skipped: true}, err
	}

	h, err := c.Handlers.Resolve(j.Type)
	if err != nil {
		return ExecuteResult{}, err
	}

	if c.Extensions != nil {
		c.Extensions.EmitJobStarted(ctx, j)
	}
	started := s.Now()
	if err := h.Execute(ctx, u, j); err != nil {
		return ExecuteResult{}, &flowcore.JobExecutionError{JobID: j.ID.String(), Type: j.Type, Err: err}
	}

	res := ExecuteResult{Job: j.Clone()}
	next, err := job.NextTimer(j, started, c.Retries)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("worker: reschedule timer %s: %w", j.ID, err)
	}
	if next != nil {
		s.Schedule(next)
		res.Next = next
	}
	s.Delete(j)

	if c.History {
		hs, err := history.SessionFrom(ctx, u)
		if err != nil {
			return ExecuteResult{}, err
		}
		hs.Record(record(j, history.OutcomeCompleted, "", j.Attempts+1, s.Now().Sub(started)))
	}
	return res, nil
}

// FailureResult describes a failure recorded by FailureCmd.
type FailureResult struct {
	// Job is the job after the failure was recorded. Nil when Skipped.
	Job *job.Job
	// Dead is set when the failure consumed the last retry.
	Dead bool
	// Skipped is set when the job was gone or no longer leased to this
	// node.
	Skipped bool
}

// FailureCmd records a failed execution in a fresh unit of work: one retry
// is consumed, the failure is stored on the job, the lock is released and
// the due date is pushed back by the backoff strategy. A job whose last
// retry was consumed keeps its due date and is dead.
//
// A failure caused by a lost optimistic-lock race is not the job's fault
// and does not consume a retry, unless the job has already failed
// MaxAttempts times.
type FailureCmd struct {
	JobID   id.JobID
	Owner   string
	Err     error
	Backoff backoff.Strategy
	// MaxAttempts bounds the conflict failures that leave Retries alone.
	// Zero means no bound.
	MaxAttempts int
	History     bool
	// Elapsed is how long the failed execution ran.
	Elapsed time.Duration
}

// Name implements command.Named.
func (c *FailureCmd) Name() string { return "record_job_failure" }

// Execute implements command.Command.
func (c *FailureCmd) Execute(ctx context.Context, u *uow.UnitOfWork) (FailureResult, error) {
	s, err := job.SessionFrom(ctx, u)
	if err != nil {
		return FailureResult{}, err
	}
	j, ok, err := leased(ctx, u, s, c.JobID, c.Owner)
	if err != nil || !ok {
		return FailureResult{Skipped: true}, err
	}

	now := s.Now()
	j.Attempts++
	if j.Retries > 0 && c.consumesRetry(j) {
		j.Retries--
	}
	j.ExceptionMessage, j.ExceptionDetail = describe(c.Err)
	j.Unlock()

	dead := j.IsDead()
	if !dead && c.Backoff != nil {
		j.DueDate = now.Add(c.Backoff.Delay(j.Attempts))
	}

	if c.History {
		hs, err := history.SessionFrom(ctx, u)
		if err != nil {
			return FailureResult{}, err
		}
		outcome := history.OutcomeFailed
		if dead {
			outcome = history.OutcomeDead
		}
		r := record(j, outcome, j.ExceptionMessage, j.Attempts, c.Elapsed)
		r.LockOwner = c.Owner
		hs.Record(r)
	}
	return FailureResult{Job: j.Clone(), Dead: dead}, nil
}

func (c *FailureCmd) consumesRetry(j *job.Job) bool {
	if !errors.Is(c.Err, flowcore.ErrConcurrentUpdate) {
		return true
	}
	return c.MaxAttempts > 0 && j.Attempts >= c.MaxAttempts
}

// leased loads a job and checks that owner still holds it.
func leased(ctx context.Context, u *uow.UnitOfWork, s *job.Session, jobID id.JobID, owner string) (*job.Job, bool, error) {
	j, err := s.Get(ctx, jobID)
	if errors.Is(err, flowcore.ErrJobNotFound) {
		u.Logger().Debug("job vanished before execution", slog.String("job_id", jobID.String()))
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if j.LockOwner != owner {
		u.Logger().Warn("job lease lost",
			slog.String("job_id", jobID.String()),
			slog.String("lock_owner", j.LockOwner),
			slog.String("expected_owner", owner),
		)
		return nil, false, nil
	}
	return j, true, nil
}

func record(j *job.Job, outcome history.Outcome, msg string, attempt int, d time.Duration) *history.Record {
	return &history.Record{
		JobID:             j.ID,
		JobType:           j.Type,
		ProcessInstanceID: j.ProcessInstanceID,
		ExecutionID:       j.ExecutionID,
		TenantID:          j.TenantID,
		Outcome:           outcome,
		Message:           msg,
		LockOwner:         j.LockOwner,
		Attempt:           attempt,
		Duration:          d,
	}
}

// describe splits err into a bounded message and a detail. A handler
// failure is reported by its cause; a panic keeps its stack as detail.
func describe(err error) (msg, detail string) {
	if err == nil {
		return "", ""
	}
	cause := err
	var execErr *flowcore.JobExecutionError
	if errors.As(err, &execErr) {
		cause = execErr.Err
	}
	msg = truncate(cause.Error(), maxExceptionMessage)

	var panicErr *flowcore.PanicError
	if errors.As(err, &panicErr) {
		return msg, panicErr.Stack
	}
	return msg, fmt.Sprintf("%+v", err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

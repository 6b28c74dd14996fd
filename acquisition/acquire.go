package acquisition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/flowcore"
	"github.com/xraph/flowcore/command"
	"github.com/xraph/flowcore/job"
	"github.com/xraph/flowcore/uow"
)

// AcquireCmd leases up to Limit due jobs to Owner for Lease.
type AcquireCmd struct {
	Owner string
	Lease time.Duration
	Limit int

	// ExclusiveDelay is waited once, before the siblings of exclusive jobs
	// are locked, so that jobs inserted by the same process step settle
	// first.
	ExclusiveDelay time.Duration

	// Pipeline runs the per-instance exclusive locking in its own unit.
	Pipeline *command.Pipeline
	Logger   *slog.Logger
}

// Name implements command.Named.
func (c *AcquireCmd) Name() string { return "acquire_jobs" }

// Execute implements command.Command.
func (c *AcquireCmd) Execute(ctx context.Context, u *uow.UnitOfWork) (Batch, error) {
	s, err := job.SessionFrom(ctx, u)
	if err != nil {
		return Batch{}, err
	}
	logger := c.Logger
	if logger == nil {
		logger = u.Logger()
	}

	now := s.Now()
	candidates, err := s.FindDue(ctx, now, c.Limit)
	if err != nil {
		return Batch{}, err
	}
	batch := Batch{Found: len(candidates)}
	until := now.Add(c.Lease)

	var instances []string
	seen := make(map[string]bool)
	for _, j := range candidates {
		if j.Exclusive && j.ProcessInstanceID != "" {
			if !seen[j.ProcessInstanceID] {
				seen[j.ProcessInstanceID] = true
				instances = append(instances, j.ProcessInstanceID)
			}
			continue
		}
		locked, err := s.TryLock(ctx, j, c.Owner, until)
		if err != nil {
			return Batch{}, err
		}
		if !locked {
			logger.Debug("job locked by another node",
				slog.String("job_id", j.ID.String()),
			)
			continue
		}
		batch.Groups = append(batch.Groups, Group{Jobs: []*job.Job{j.Clone()}})
	}

	// One settle delay covers every instance; the rows locked above stay
	// held until this unit commits.
	if len(instances) > 0 {
		if err := sleep(ctx, c.ExclusiveDelay); err != nil {
			return Batch{}, err
		}
	}
	for _, pi := range instances {
		jobs, err := command.ExecuteWith(ctx, c.Pipeline, command.RequiresNewConfig(), &lockExclusiveCmd{
			processInstanceID: pi,
			owner:             c.Owner,
			lease:             c.Lease,
		})
		if err != nil {
			if isExclusiveConflict(err) {
				logger.Debug("exclusive jobs taken by another node",
					slog.String("process_instance_id", pi),
				)
				continue
			}
			return Batch{}, err
		}
		if len(jobs) == 0 {
			continue
		}
		batch.Groups = append(batch.Groups, Group{ProcessInstanceID: pi, Exclusive: true, Jobs: jobs})
	}
	return batch, nil
}

// lockExclusiveCmd locks every due exclusive job of one process instance,
// or none of them.
type lockExclusiveCmd struct {
	processInstanceID string
	owner             string
	lease             time.Duration
}

func (c *lockExclusiveCmd) Name() string { return "lock_exclusive_jobs" }

func (c *lockExclusiveCmd) Execute(ctx context.Context, u *uow.UnitOfWork) ([]*job.Job, error) {
	s, err := job.SessionFrom(ctx, u)
	if err != nil {
		return nil, err
	}
	now := s.Now()
	siblings, err := s.FindExclusive(ctx, c.processInstanceID, now)
	if err != nil {
		return nil, err
	}
	for _, j := range siblings {
		// A sibling under a live lease is still running somewhere,
		// possibly on this node.
		if j.IsLocked(now) {
			return nil, nil
		}
	}

	until := now.Add(c.lease)
	out := make([]*job.Job, 0, len(siblings))
	for _, j := range siblings {
		locked, err := s.TryLock(ctx, j, c.owner, until)
		if err != nil {
			return nil, err
		}
		if !locked {
			return nil, &exclusiveConflictError{processInstanceID: c.processInstanceID, jobID: j.ID.String()}
		}
		out = append(out, j.Clone())
	}
	return out, nil
}

// exclusiveConflictError rolls back a partially locked instance. It is not
// a concurrent-update error, so the command is not retried; the instance
// is simply picked up by a later cycle.
type exclusiveConflictError struct {
	processInstanceID string
	jobID             string
}

func (e *exclusiveConflictError) Error() string {
	return fmt.Sprintf("acquisition: job %s of process instance %s was locked by another node",
		e.jobID, e.processInstanceID)
}

// Is reports whether target is flowcore.ErrJobLocked.
func (e *exclusiveConflictError) Is(target error) bool { return target == flowcore.ErrJobLocked }

func isExclusiveConflict(err error) bool {
	var conflict *exclusiveConflictError
	return errors.As(err, &conflict)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

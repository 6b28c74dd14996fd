package job

import (
	"context"

	"github.com/xraph/flowcore"
	"github.com/xraph/flowcore/command"
	"github.com/xraph/flowcore/id"
	"github.com/xraph/flowcore/uow"
)

// GetJob returns the job with the given id.
func GetJob(jobID id.JobID) command.Command[*Job] {
	return command.NamedFunc("job.get", func(ctx context.Context, u *uow.UnitOfWork) (*Job, error) {
		s, err := SessionFrom(ctx, u)
		if err != nil {
			return nil, err
		}
		j, err := s.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		return j.Clone(), nil
	})
}

// ListJobs returns the jobs matching q.
func ListJobs(q Query) command.Command[[]*Job] {
	return command.NamedFunc("job.list", func(ctx context.Context, u *uow.UnitOfWork) ([]*Job, error) {
		s, err := SessionFrom(ctx, u)
		if err != nil {
			return nil, err
		}
		js, err := s.Find(ctx, q)
		if err != nil {
			return nil, err
		}
		out := make([]*Job, len(js))
		for i, j := range js {
			out[i] = j.Clone()
		}
		return out, nil
	})
}

// ListDeadJobs returns jobs that exhausted their retries.
func ListDeadJobs(q Query) command.Command[[]*Job] {
	q.OnlyDead = true
	return ListJobs(q)
}

// CountJobs counts the jobs matching q.
func CountJobs(q Query) command.Command[int64] {
	return command.NamedFunc("job.count", func(ctx context.Context, u *uow.UnitOfWork) (int64, error) {
		s, err := SessionFrom(ctx, u)
		if err != nil {
			return 0, err
		}
		return s.Count(ctx, q)
	})
}

// SetRetries gives a job a new retry budget. The recorded failure and any
// lease are cleared and the job is due immediately. This is the only way
// a job's retries grow.
func SetRetries(jobID id.JobID, retries int) command.Command[*Job] {
	return command.NamedFunc("job.set_retries", func(ctx context.Context, u *uow.UnitOfWork) (*Job, error) {
		if retries < 0 {
			return nil, flowcore.Configurationf("retries must not be negative, got %d", retries)
		}
		s, err := SessionFrom(ctx, u)
		if err != nil {
			return nil, err
		}
		j, err := s.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		j.Retries = retries
		j.Attempts = 0
		j.ExceptionMessage, j.ExceptionDetail = "", ""
		j.Unlock()
		j.DueDate = s.Now()
		return j.Clone(), nil
	})
}

// DeleteJob removes a job.
func DeleteJob(jobID id.JobID) command.Command[struct{}] {
	return command.NamedFunc("job.delete", func(ctx context.Context, u *uow.UnitOfWork) (struct{}, error) {
		s, err := SessionFrom(ctx, u)
		if err != nil {
			return struct{}{}, err
		}
		j, err := s.Get(ctx, jobID)
		if err != nil {
			return struct{}{}, err
		}
		s.Delete(j)
		return struct{}{}, nil
	})
}

// CancelJobs deletes every job of an execution. Run it nested in the
// command that ends the execution so both commit together.
func CancelJobs(executionID string) command.Command[int] {
	return command.NamedFunc("job.cancel", func(ctx context.Context, u *uow.UnitOfWork) (int, error) {
		s, err := SessionFrom(ctx, u)
		if err != nil {
			return 0, err
		}
		return s.CancelJobs(ctx, executionID)
	})
}

// CreateTimer schedules a timer.
func CreateTimer(spec TimerSpec) command.Command[*Job] {
	return command.NamedFunc("job.create_timer", func(ctx context.Context, u *uow.UnitOfWork) (*Job, error) {
		s, err := SessionFrom(ctx, u)
		if err != nil {
			return nil, err
		}
		j, err := NewTimer(spec, s.Now())
		if err != nil {
			return nil, err
		}
		s.Schedule(j)
		return j, nil
	})
}

// ScheduleMessage schedules an asynchronous continuation, due now.
func ScheduleMessage(j *Job) command.Command[*Job] {
	return command.NamedFunc("job.schedule_message", func(ctx context.Context, u *uow.UnitOfWork) (*Job, error) {
		if j.Type == "" {
			return nil, flowcore.Configurationf("message job without a type")
		}
		s, err := SessionFrom(ctx, u)
		if err != nil {
			return nil, err
		}
		j.Kind = KindMessage
		s.Schedule(j)
		return j, nil
	})
}

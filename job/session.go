package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/flowcore"
	"github.com/xraph/flowcore/clock"
	"github.com/xraph/flowcore/id"
	"github.com/xraph/flowcore/persistence"
	"github.com/xraph/flowcore/uow"
)

// SessionKind is the kind under which the job session is registered.
const SessionKind uow.SessionKind = "job"

// Notifier is told that new jobs were committed.
type Notifier interface {
	Notify(ctx context.Context)
}

// SessionOptions configures job sessions.
type SessionOptions struct {
	Clock          clock.Clock
	Notifier       Notifier
	DefaultRetries int
	BatchSize      int
}

// NewSessionFactory returns the factory opening a job Session for every
// unit of work that touches jobs.
func NewSessionFactory(opts SessionOptions) uow.SessionFactory {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	return uow.NewSessionFactory(SessionKind, func(ctx context.Context, u *uow.UnitOfWork) (uow.Session, error) {
		tx, err := TxOf(ctx, u)
		if err != nil {
			return nil, err
		}
		return newSession(u, tx, opts), nil
	})
}

// SessionFrom returns the job session of u.
func SessionFrom(ctx context.Context, u *uow.UnitOfWork) (*Session, error) {
	return uow.SessionOf[*Session](ctx, u, SessionKind)
}

// Session stages job changes for one unit of work. Reads go through the
// unit's store transaction and are tracked for dirty checking, so a job
// that is read and not changed is never written back.
type Session struct {
	u        *uow.UnitOfWork
	tx       Tx
	opts     SessionOptions
	entities *persistence.EntitySession[*Job]

	scheduled int
	listening bool
}

func newSession(u *uow.UnitOfWork, tx Tx, opts SessionOptions) *Session {
	var popts []persistence.Option
	if opts.BatchSize > 0 {
		popts = append(popts, persistence.WithBatchSize(opts.BatchSize))
	}
	return &Session{
		u:        u,
		tx:       tx,
		opts:     opts,
		entities: persistence.NewEntitySession[*Job]("job", txBackend{tx: tx}, popts...),
	}
}

// Tx returns the store transaction backing the session.
func (s *Session) Tx() Tx { return s.tx }

// Now returns the session clock's time.
func (s *Session) Now() time.Time { return s.opts.Clock.Now() }

// Schedule stages j for insertion. Missing ids, creation times and retry
// budgets are filled in. Once the unit commits, the notifier is told that
// new work exists; a rolled-back unit notifies nobody.
func (s *Session) Schedule(j *Job) {
	if j.ID.IsNil() {
		j.ID = id.NewJobID()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = s.Now()
	}
	if j.Kind == "" {
		j.Kind = KindMessage
	}
	if j.DueDate.IsZero() {
		j.DueDate = j.CreatedAt
	}
	if j.Retries == 0 && j.Attempts == 0 {
		j.Retries = s.opts.DefaultRetries
	}
	s.entities.Insert(j)
	s.scheduled++

	if !s.listening && s.opts.Notifier != nil {
		s.listening = true
		s.u.AddCloseListener(uow.ListenerFuncs{
			OnClosed: func(ctx context.Context, _ *uow.UnitOfWork) error {
				if s.scheduled > 0 {
					s.opts.Notifier.Notify(ctx)
				}
				return nil
			},
		})
	}
}

// Scheduled returns the number of jobs scheduled in this session.
func (s *Session) Scheduled() int { return s.scheduled }

// Get returns the job with the given id, reading it from the store unless
// this session already tracks it.
func (s *Session) Get(ctx context.Context, jobID id.JobID) (*Job, error) {
	if j, ok := s.entities.Get(jobID.String()); ok {
		return j, nil
	}
	j, err := s.tx.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return s.entities.Load(j)
}

// FindDue returns up to limit acquirable jobs at now.
func (s *Session) FindDue(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	js, err := s.tx.FindDueJobs(ctx, now, limit)
	if err != nil {
		return nil, fmt.Errorf("job: find due: %w", err)
	}
	return s.loadAll(js)
}

// FindExclusive returns every due exclusive job of a process instance.
func (s *Session) FindExclusive(ctx context.Context, processInstanceID string, now time.Time) ([]*Job, error) {
	js, err := s.tx.FindExclusiveJobs(ctx, processInstanceID, now)
	if err != nil {
		return nil, fmt.Errorf("job: find exclusive %s: %w", processInstanceID, err)
	}
	return s.loadAll(js)
}

// Find returns the jobs matching q.
func (s *Session) Find(ctx context.Context, q Query) ([]*Job, error) {
	js, err := s.tx.FindJobs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("job: find: %w", err)
	}
	return s.loadAll(js)
}

// Count returns the number of jobs matching q.
func (s *Session) Count(ctx context.Context, q Query) (int64, error) {
	return s.tx.CountJobs(ctx, q)
}

func (s *Session) loadAll(js []*Job) ([]*Job, error) {
	out := make([]*Job, 0, len(js))
	for _, j := range js {
		tracked, err := s.entities.Load(j)
		if err != nil {
			return nil, err
		}
		out = append(out, tracked)
	}
	return out, nil
}

// TryLock leases j to owner until the given time and writes the lease
// right away. A competing writer that got to the row first makes TryLock
// return false; j is then left as it was and no longer tracked.
func (s *Session) TryLock(ctx context.Context, j *Job, owner string, until time.Time) (bool, error) {
	prevOwner, prevExp := j.LockOwner, j.LockExpirationTime
	j.Lock(owner, until)
	err := s.entities.UpdateNow(ctx, j)
	if err == nil {
		return true, nil
	}
	j.LockOwner, j.LockExpirationTime = prevOwner, prevExp
	if errors.Is(err, flowcore.ErrConcurrentUpdate) {
		s.entities.Evict(j.EntityID())
		return false, nil
	}
	return false, err
}

// Delete stages j for deletion.
func (s *Session) Delete(j *Job) { s.entities.Delete(j) }

// CancelJobs deletes every job of an execution inside the current unit of
// work, so cancellation commits or rolls back with the state change that
// caused it.
func (s *Session) CancelJobs(ctx context.Context, executionID string) (int, error) {
	if executionID == "" {
		return 0, nil
	}
	js, err := s.Find(ctx, Query{ExecutionID: executionID})
	if err != nil {
		return 0, err
	}
	for _, j := range js {
		s.Delete(j)
	}
	return len(js), nil
}

// Flush implements uow.Session.
func (s *Session) Flush(ctx context.Context) error { return s.entities.Flush(ctx) }

// Close implements uow.Session.
func (s *Session) Close(ctx context.Context) error { return s.entities.Close(ctx) }

// Stats returns the statements issued by the session.
func (s *Session) Stats() persistence.Stats { return s.entities.Stats() }

// txBackend adapts a Tx to persistence.Backend.
type txBackend struct {
	tx Tx
}

func (b txBackend) Insert(ctx context.Context, j *Job) error { return b.tx.InsertJob(ctx, j) }

func (b txBackend) InsertBatch(ctx context.Context, js []*Job) error {
	return b.tx.InsertJobs(ctx, js)
}

func (b txBackend) Update(ctx context.Context, j *Job) (int64, error) { return b.tx.UpdateJob(ctx, j) }

func (b txBackend) Delete(ctx context.Context, j *Job) (int64, error) { return b.tx.DeleteJob(ctx, j) }

package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xraph/flowcore"
	"github.com/xraph/flowcore/backoff"
	"github.com/xraph/flowcore/clock"
	"github.com/xraph/flowcore/command"
	"github.com/xraph/flowcore/ext"
	"github.com/xraph/flowcore/history"
	"github.com/xraph/flowcore/id"
	"github.com/xraph/flowcore/interceptor"
	"github.com/xraph/flowcore/job"
	"github.com/xraph/flowcore/store/memory"
	"github.com/xraph/flowcore/uow"
	"github.com/xraph/flowcore/worker"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

const owner = "node-a"

// ──────────────────────────────────────────────────
// Fixture
// ──────────────────────────────────────────────────

type events struct {
	mu    sync.Mutex
	calls []string
}

func (e *events) Name() string { return "events" }

func (e *events) add(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, s)
}

func (e *events) OnJobStarted(_ context.Context, j *job.Job) error {
	e.add("started:" + j.Type)
	return nil
}

func (e *events) OnJobCompleted(_ context.Context, j *job.Job, _ time.Duration) error {
	e.add("completed:" + j.Type)
	return nil
}

func (e *events) OnJobRetrying(_ context.Context, j *job.Job, _ error, _ time.Time) error {
	e.add("retrying:" + j.Type)
	return nil
}

func (e *events) OnJobDead(_ context.Context, j *job.Job, _ error) error {
	e.add("dead:" + j.Type)
	return nil
}

type fixture struct {
	store    *memory.Store
	clock    *clock.Fake
	pipeline *command.Pipeline
	events   *events
	executor *worker.Executor
}

func newFixture(t *testing.T, handlers ...job.Handler) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	f := &fixture{store: memory.New(), clock: clock.NewFake(t0), events: &events{}}

	factories, err := uow.NewSessionFactories(
		job.NewSessionFactory(job.SessionOptions{Clock: f.clock, DefaultRetries: 3}),
		history.NewSessionFactory(history.SessionOptions{Store: f.store, Clock: f.clock, Logger: logger}),
	)
	if err != nil {
		t.Fatalf("NewSessionFactories: %v", err)
	}
	f.pipeline, err = command.NewPipeline(command.DefaultConfig(),
		interceptor.Retry(2, time.Millisecond, logger),
		interceptor.UnitOfWork(factories, job.TransactionFactory(f.store), logger),
	)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	reg, err := job.NewRegistry(handlers...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	exts := ext.NewRegistry(logger)
	exts.Register(f.events)

	cfg := flowcore.DefaultConfig()
	cfg.LockOwner = owner
	cfg.HistoryEnabled = true
	f.executor = worker.NewExecutor(f.pipeline, reg,
		worker.WithExecutorConfig(cfg),
		worker.WithBackoff(backoff.NewConstant(10*time.Second)),
		worker.WithExecutorExtensions(exts),
		worker.WithExecutorLogger(logger),
	)
	return f
}

// leased stores a due job locked by owner.
func (f *fixture) leased(typ string, retries int) *job.Job {
	j := &job.Job{
		ID:                 id.NewJobID(),
		Type:               typ,
		Kind:               job.KindMessage,
		DueDate:            t0.Add(-time.Minute),
		Retries:            retries,
		LockOwner:          owner,
		LockExpirationTime: t0.Add(5 * time.Minute),
		CreatedAt:          t0.Add(-time.Hour),
	}
	f.store.Put(j)
	return j
}

func (f *fixture) history(t *testing.T, jobID id.JobID) []*history.Record {
	t.Helper()
	rs, err := f.store.ListRecords(context.Background(), history.Query{JobID: jobID})
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	return rs
}

// ──────────────────────────────────────────────────
// ExecuteCmd
// ──────────────────────────────────────────────────

func TestExecute_SuccessDeletesJobAndRecordsHistory(t *testing.T) {
	var seen string
	f := newFixture(t, job.NewHandler("greet", func(_ context.Context, _ *uow.UnitOfWork, j *job.Job) error {
		seen = j.ID.String()
		return nil
	}))
	j := f.leased("greet", 3)

	if err := f.executor.Execute(context.Background(), j.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if seen != j.ID.String() {
		t.Fatalf("handler saw %q, want %q", seen, j.ID)
	}
	if _, ok := f.store.Job(j.ID); ok {
		t.Fatal("completed job still stored")
	}
	rs := f.history(t, j.ID)
	if len(rs) != 1 || rs[0].Outcome != history.OutcomeCompleted || rs[0].Attempt != 1 {
		t.Fatalf("history = %+v, want one completed record for attempt 1", rs)
	}
	want := []string{"started:greet", "completed:greet"}
	if strings.Join(f.events.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", f.events.calls, want)
	}
}

func TestExecute_FailureRollsBackAndConsumesRetry(t *testing.T) {
	boom := errors.New("boom")
	f := newFixture(t, job.NewHandler("flaky", func(ctx context.Context, u *uow.UnitOfWork, _ *job.Job) error {
		s, err := job.SessionFrom(ctx, u)
		if err != nil {
			return err
		}
		s.Schedule(&job.Job{Type: "side-effect"})
		return boom
	}))
	j := f.leased("flaky", 3)

	err := f.executor.Execute(context.Background(), j.ID)
	if !errors.Is(err, boom) {
		t.Fatalf("Execute error = %v, want boom", err)
	}

	got, ok := f.store.Job(j.ID)
	if !ok {
		t.Fatal("failed job was deleted")
	}
	if got.Retries != 2 || got.Attempts != 1 {
		t.Fatalf("retries/attempts = %d/%d, want 2/1", got.Retries, got.Attempts)
	}
	if got.LockOwner != "" || !got.LockExpirationTime.IsZero() {
		t.Fatalf("lock not released: %q until %v", got.LockOwner, got.LockExpirationTime)
	}
	if want := t0.Add(10 * time.Second); !got.DueDate.Equal(want) {
		t.Fatalf("due date = %v, want %v", got.DueDate, want)
	}
	if got.ExceptionMessage != "boom" {
		t.Fatalf("exception message = %q, want boom", got.ExceptionMessage)
	}
	if n := len(f.store.Jobs()); n != 1 {
		t.Fatalf("stored jobs = %d, want 1: the handler's staged job must roll back", n)
	}
	rs := f.history(t, j.ID)
	if len(rs) != 1 || rs[0].Outcome != history.OutcomeFailed || rs[0].LockOwner != owner {
		t.Fatalf("history = %+v, want one failed record", rs)
	}
}

func TestExecute_LastRetryLeavesDeadJob(t *testing.T) {
	f := newFixture(t, job.NewHandler("doomed", func(context.Context, *uow.UnitOfWork, *job.Job) error {
		return errors.New("still broken")
	}))
	j := f.leased("doomed", 1)

	_ = f.executor.Execute(context.Background(), j.ID)

	got, _ := f.store.Job(j.ID)
	if !got.IsDead() {
		t.Fatalf("retries = %d, want dead", got.Retries)
	}
	if !got.DueDate.Equal(j.DueDate) {
		t.Fatalf("dead job due date moved to %v", got.DueDate)
	}

	// A dead job is never acquired again, however much time passes.
	f.clock.Advance(24 * time.Hour)
	due, err := command.Execute(context.Background(), f.pipeline, command.Func[[]*job.Job](
		func(ctx context.Context, u *uow.UnitOfWork) ([]*job.Job, error) {
			s, err := job.SessionFrom(ctx, u)
			if err != nil {
				return nil, err
			}
			return s.FindDue(ctx, s.Now(), 10)
		}))
	if err != nil {
		t.Fatalf("FindDue: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("dead job is due: %+v", due)
	}

	dead, err := command.Execute(context.Background(), f.pipeline, job.ListDeadJobs(job.Query{}))
	if err != nil || len(dead) != 1 {
		t.Fatalf("ListDeadJobs = %d, %v; want 1", len(dead), err)
	}
	if rs := f.history(t, j.ID); len(rs) != 1 || rs[0].Outcome != history.OutcomeDead {
		t.Fatalf("history = %+v, want one dead record", rs)
	}
	if last := f.events.calls[len(f.events.calls)-1]; last != "dead:doomed" {
		t.Fatalf("last event = %q, want dead:doomed", last)
	}
}

func TestExecute_LostLeaseSkipsJob(t *testing.T) {
	ran := false
	f := newFixture(t, job.NewHandler("greet", func(context.Context, *uow.UnitOfWork, *job.Job) error {
		ran = true
		return nil
	}))
	j := f.leased("greet", 3)
	j.LockOwner = "node-b"
	f.store.Put(j)

	if err := f.executor.Execute(context.Background(), j.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if ran {
		t.Fatal("handler ran for a job leased to another node")
	}
	got, _ := f.store.Job(j.ID)
	if got.LockOwner != "node-b" || got.Retries != 3 {
		t.Fatalf("job changed: %+v", got)
	}
}

func TestExecute_PanicIsRecordedWithStack(t *testing.T) {
	f := newFixture(t, job.NewHandler("panicky", func(context.Context, *uow.UnitOfWork, *job.Job) error {
		panic("nil map")
	}))
	j := f.leased("panicky", 3)

	err := f.executor.Execute(context.Background(), j.ID)
	var pe *flowcore.PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("Execute error = %v, want PanicError", err)
	}
	got, _ := f.store.Job(j.ID)
	if got.Retries != 2 || !strings.Contains(got.ExceptionMessage, "nil map") || got.ExceptionDetail == "" {
		t.Fatalf("failure not recorded: %+v", got)
	}
}

func TestExecute_MissingHandlerConsumesRetry(t *testing.T) {
	f := newFixture(t)
	j := f.leased("unknown", 3)

	err := f.executor.Execute(context.Background(), j.ID)
	if !errors.Is(err, flowcore.ErrNoHandler) {
		t.Fatalf("Execute error = %v, want ErrNoHandler", err)
	}
	got, _ := f.store.Job(j.ID)
	if got.Retries != 2 {
		t.Fatalf("retries = %d, want 2", got.Retries)
	}
}

func TestExecute_RepeatingTimerSchedulesNextOccurrence(t *testing.T) {
	f := newFixture(t, job.NewHandler("report", func(context.Context, *uow.UnitOfWork, *job.Job) error {
		return nil
	}))
	j := f.leased("report", 3)
	j.Kind = job.KindTimer
	j.Repeat = "0 * * * *"
	f.store.Put(j)

	if err := f.executor.Execute(context.Background(), j.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	jobs := f.store.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("stored jobs = %d, want the next timer only", len(jobs))
	}
	next := jobs[0]
	if next.ID.String() == j.ID.String() || next.Repeat != j.Repeat || next.LockOwner != "" {
		t.Fatalf("next timer = %+v", next)
	}
	if want := t0.Add(time.Hour); !next.DueDate.Equal(want) {
		t.Fatalf("next due = %v, want %v", next.DueDate, want)
	}
}

// ──────────────────────────────────────────────────
// FailureCmd
// ──────────────────────────────────────────────────

func TestFailureCmd_ConcurrentUpdateKeepsRetries(t *testing.T) {
	f := newFixture(t)
	j := f.leased("greet", 3)

	res, err := command.Execute(context.Background(), f.pipeline, &worker.FailureCmd{
		JobID:   j.ID,
		Owner:   owner,
		Err:     &flowcore.ConcurrentUpdateError{Entity: "execution", ID: "e1", Revision: 4},
		Backoff: backoff.NewConstant(time.Second),
	})
	if err != nil {
		t.Fatalf("FailureCmd: %v", err)
	}
	if res.Job.Retries != 3 || res.Job.Attempts != 1 || res.Dead {
		t.Fatalf("result = %+v, want retries kept and one attempt", res.Job)
	}
}

func TestFailureCmd_ConflictsStopBeingFreeAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	j := f.leased("greet", 2)
	conflict := &flowcore.ConcurrentUpdateError{Entity: "execution", ID: "e1", Revision: 4}

	var last worker.FailureResult
	for attempt := 1; attempt <= 20; attempt++ {
		res, err := command.Execute(context.Background(), f.pipeline, &worker.FailureCmd{
			JobID:       j.ID,
			Owner:       owner,
			Err:         conflict,
			Backoff:     backoff.NewConstant(time.Second),
			MaxAttempts: 4,
		})
		if err != nil {
			t.Fatalf("attempt %d: FailureCmd: %v", attempt, err)
		}
		last = res
		if res.Dead {
			break
		}
		if attempt < 4 && res.Job.Retries != 2 {
			t.Fatalf("attempt %d consumed a retry: %+v", attempt, res.Job)
		}
		// Lease the job again, as the next acquisition would.
		next := res.Job.Clone()
		next.LockOwner = owner
		next.LockExpirationTime = t0.Add(5 * time.Minute)
		f.store.Put(next)
	}

	if !last.Dead {
		t.Fatalf("job still alive after 20 conflicts: %+v", last.Job)
	}
	if last.Job.Attempts != 5 {
		t.Fatalf("died after %d attempts, want 5", last.Job.Attempts)
	}
}

func TestFailureCmd_VanishedJobIsSkipped(t *testing.T) {
	f := newFixture(t)

	res, err := command.Execute(context.Background(), f.pipeline, &worker.FailureCmd{
		JobID: id.NewJobID(),
		Owner: owner,
		Err:   errors.New("x"),
	})
	if err != nil || !res.Skipped {
		t.Fatalf("FailureCmd = %+v, %v; want skipped", res, err)
	}
}

// ──────────────────────────────────────────────────
// RunGroup
// ──────────────────────────────────────────────────

func TestRunGroup_RunsSiblingsInOrderPastFailures(t *testing.T) {
	var order []string
	f := newFixture(t, job.NewHandler("step", func(_ context.Context, _ *uow.UnitOfWork, j *job.Job) error {
		order = append(order, j.ExecutionID)
		if j.ExecutionID == "b" {
			return errors.New("b failed")
		}
		return nil
	}))
	var jobs []*job.Job
	for _, exec := range []string{"a", "b", "c"} {
		j := f.leased("step", 3)
		j.ExecutionID = exec
		j.Exclusive = true
		j.ProcessInstanceID = "pi-1"
		f.store.Put(j)
		jobs = append(jobs, j)
	}

	f.executor.RunGroup(context.Background(), groupOf(jobs...))

	if strings.Join(order, "") != "abc" {
		t.Fatalf("order = %v, want [a b c]", order)
	}
	if n := len(f.store.Jobs()); n != 1 {
		t.Fatalf("stored jobs = %d, want only the failed one", n)
	}
}

package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/flowcore"
	"github.com/xraph/flowcore/history"
	"github.com/xraph/flowcore/id"
	"github.com/xraph/flowcore/job"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newJob(due time.Time, retries int) *job.Job {
	return &job.Job{
		ID:        id.NewJobID(),
		Type:      "test",
		Kind:      job.KindMessage,
		DueDate:   due,
		Retries:   retries,
		Rev:       1,
		CreatedAt: due,
	}
}

func begin(t *testing.T, s *Store) job.Tx {
	t.Helper()
	tx, err := s.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return tx
}

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.Begin(ctx); !errors.Is(err, flowcore.ErrStoreClosed) {
		t.Fatalf("Begin after Close: got %v, want ErrStoreClosed", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, flowcore.ErrStoreClosed) {
		t.Fatalf("Ping after Close: got %v, want ErrStoreClosed", err)
	}
}

// ──────────────────────────────────────────────────
// Isolation tests
// ──────────────────────────────────────────────────

func TestTx_UncommittedInsertIsInvisible(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	j := newJob(t0, 3)

	writer, reader := begin(t, s), begin(t, s)
	if err := writer.InsertJob(ctx, j); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
	if _, err := writer.GetJob(ctx, j.ID); err != nil {
		t.Fatalf("writer must see its own insert: %v", err)
	}
	if _, err := reader.GetJob(ctx, j.ID); !errors.Is(err, flowcore.ErrJobNotFound) {
		t.Fatalf("reader saw uncommitted insert: %v", err)
	}

	if err := writer.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := reader.GetJob(ctx, j.ID); err != nil {
		t.Fatalf("reader must see committed insert: %v", err)
	}
}

func TestTx_HeldRowRejectsOtherWriters(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	j := newJob(t0, 3)
	s.Put(j)

	tx1, tx2 := begin(t, s), begin(t, s)
	a, _ := tx1.GetJob(ctx, j.ID)
	b, _ := tx2.GetJob(ctx, j.ID)

	a.LockOwner = "w1"
	if n, err := tx1.UpdateJob(ctx, a); err != nil || n != 1 {
		t.Fatalf("tx1 update: n=%d err=%v", n, err)
	}

	b.LockOwner = "w2"
	if n, err := tx2.UpdateJob(ctx, b); err != nil || n != 0 {
		t.Fatalf("tx2 update of held row: n=%d err=%v, want 0 rows", n, err)
	}
	if n, _ := tx2.DeleteJob(ctx, b); n != 0 {
		t.Fatalf("tx2 delete of held row: n=%d, want 0 rows", n)
	}

	if err := tx1.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// Released, but tx2's copy is now stale.
	if n, _ := tx2.UpdateJob(ctx, b); n != 0 {
		t.Fatalf("stale update: n=%d, want 0 rows", n)
	}

	got, _ := s.Job(j.ID)
	if got.LockOwner != "w1" || got.Rev != 2 {
		t.Fatalf("committed row = %+v, want owner w1 at revision 2", got)
	}
}

func TestTx_RollbackDiscardsAndReleases(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	j := newJob(t0, 3)
	s.Put(j)

	tx1 := begin(t, s)
	cp, _ := tx1.GetJob(ctx, j.ID)
	cp.Retries = 0
	if n, _ := tx1.UpdateJob(ctx, cp); n != 1 {
		t.Fatalf("update: n=%d", n)
	}
	if err := tx1.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	got, _ := s.Job(j.ID)
	if got.Retries != 3 || got.Rev != 1 {
		t.Fatalf("rolled-back write leaked: %+v", got)
	}

	tx2 := begin(t, s)
	cp2, _ := tx2.GetJob(ctx, j.ID)
	if n, _ := tx2.UpdateJob(ctx, cp2); n != 1 {
		t.Fatalf("row still held after rollback: n=%d", n)
	}
}

func TestTx_DoneRejectsFurtherUse(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	tx := begin(t, s)
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Commit", func() error { return tx.Commit(ctx) }},
		{"Rollback", func() error { return tx.Rollback(ctx) }},
		{"InsertJob", func() error { return tx.InsertJob(ctx, newJob(t0, 1)) }},
		{"FindDueJobs", func() error { _, err := tx.FindDueJobs(ctx, t0, 1); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, flowcore.ErrTxDone) {
				t.Fatalf("got %v, want ErrTxDone", err)
			}
		})
	}
}

func TestTx_DuplicateInsert(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	j := newJob(t0, 3)
	s.Put(j)

	tx := begin(t, s)
	if err := tx.InsertJob(ctx, j); !errors.Is(err, flowcore.ErrJobExists) {
		t.Fatalf("got %v, want ErrJobExists", err)
	}
}

// ──────────────────────────────────────────────────
// Due-job query tests
// ──────────────────────────────────────────────────

func TestFindDueJobs_LeaseRecovery(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	expiry := t0.Add(5 * time.Minute)

	j := newJob(t0, 3)
	j.Lock("w1", expiry)
	s.Put(j)

	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"while leased", t0.Add(time.Minute), 0},
		{"at expiry", expiry, 0},
		{"after expiry", expiry.Add(time.Nanosecond), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := begin(t, s)
			defer tx.Rollback(ctx)
			got, err := tx.FindDueJobs(ctx, tt.now, 10)
			if err != nil {
				t.Fatalf("FindDueJobs: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("got %d jobs, want %d", len(got), tt.want)
			}
		})
	}
}

func TestFindDueJobs_ExcludesDeadAndFuture(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	dead := newJob(t0.Add(-time.Hour), 0)
	future := newJob(t0.Add(time.Hour), 3)
	due := newJob(t0, 3)
	for _, j := range []*job.Job{dead, future, due} {
		s.Put(j)
	}

	tx := begin(t, s)
	defer tx.Rollback(ctx)
	got, err := tx.FindDueJobs(ctx, t0, 10)
	if err != nil {
		t.Fatalf("FindDueJobs: %v", err)
	}
	if len(got) != 1 || got[0].ID.String() != due.ID.String() {
		t.Fatalf("got %v, want only the due job", got)
	}
}

func TestFindDueJobs_OrderAndLimit(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	late := newJob(t0.Add(-time.Minute), 3)
	early := newJob(t0.Add(-time.Hour), 3)
	mid := newJob(t0.Add(-30*time.Minute), 3)
	for _, j := range []*job.Job{late, early, mid} {
		s.Put(j)
	}

	tx := begin(t, s)
	defer tx.Rollback(ctx)
	got, err := tx.FindDueJobs(ctx, t0, 2)
	if err != nil {
		t.Fatalf("FindDueJobs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d jobs, want 2", len(got))
	}
	if got[0].ID.String() != early.ID.String() || got[1].ID.String() != mid.ID.String() {
		t.Fatalf("jobs not ordered by due date")
	}
}

func TestFindExclusiveJobs_IncludesLocked(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	a := newJob(t0, 3)
	a.Exclusive, a.ProcessInstanceID = true, "pi-1"
	a.Lock("w1", t0.Add(time.Minute))
	b := newJob(t0, 3)
	b.Exclusive, b.ProcessInstanceID = true, "pi-1"
	other := newJob(t0, 3)
	other.Exclusive, other.ProcessInstanceID = true, "pi-2"
	shared := newJob(t0, 3)
	shared.ProcessInstanceID = "pi-1"
	for _, j := range []*job.Job{a, b, other, shared} {
		s.Put(j)
	}

	tx := begin(t, s)
	defer tx.Rollback(ctx)
	got, err := tx.FindExclusiveJobs(ctx, "pi-1", t0)
	if err != nil {
		t.Fatalf("FindExclusiveJobs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d jobs, want the two exclusive jobs of pi-1", len(got))
	}
}

func TestFindJobs_Query(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	a := newJob(t0, 0)
	a.ExecutionID = "ex-1"
	b := newJob(t0, 2)
	b.ExecutionID = "ex-1"
	c := newJob(t0, 0)
	for _, j := range []*job.Job{a, b, c} {
		s.Put(j)
	}

	tx := begin(t, s)
	defer tx.Rollback(ctx)

	tests := []struct {
		name string
		q    job.Query
		want int64
	}{
		{"all", job.Query{}, 3},
		{"by execution", job.Query{ExecutionID: "ex-1"}, 2},
		{"dead", job.Query{OnlyDead: true}, 2},
		{"dead of execution", job.Query{ExecutionID: "ex-1", OnlyDead: true}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := tx.CountJobs(ctx, tt.q)
			if err != nil {
				t.Fatalf("CountJobs: %v", err)
			}
			if n != tt.want {
				t.Fatalf("got %d, want %d", n, tt.want)
			}
			js, _ := tx.FindJobs(ctx, tt.q)
			if int64(len(js)) != tt.want {
				t.Fatalf("FindJobs returned %d, want %d", len(js), tt.want)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// History tests
// ──────────────────────────────────────────────────

func TestHistory_CommitsWithTransaction(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	rec := &history.Record{ID: id.NewHistoryID(), JobID: id.NewJobID(), Outcome: history.OutcomeCompleted}

	rolledBack := begin(t, s)
	_ = rolledBack.(history.TxWriter).InsertHistory(ctx, []*history.Record{rec})
	_ = rolledBack.Rollback(ctx)

	committed := begin(t, s)
	_ = committed.(history.TxWriter).InsertHistory(ctx, []*history.Record{rec})
	_ = committed.Commit(ctx)

	got, err := s.ListRecords(ctx, history.Query{})
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
}

func TestHistory_ListFilters(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	jobID := id.NewJobID()
	_ = s.InsertRecords(ctx, []*history.Record{
		{ID: id.NewHistoryID(), JobID: jobID, Outcome: history.OutcomeFailed},
		{ID: id.NewHistoryID(), JobID: jobID, Outcome: history.OutcomeCompleted},
		{ID: id.NewHistoryID(), JobID: id.NewJobID(), Outcome: history.OutcomeCompleted},
	})

	got, _ := s.ListRecords(ctx, history.Query{JobID: jobID})
	if len(got) != 2 {
		t.Fatalf("by job: got %d, want 2", len(got))
	}
	got, _ = s.ListRecords(ctx, history.Query{Outcome: history.OutcomeCompleted, Limit: 1})
	if len(got) != 1 {
		t.Fatalf("limited: got %d, want 1", len(got))
	}
}

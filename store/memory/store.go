// Package memory provides an in-memory job and history store for
// development and testing.
//
// Transactions read committed data plus their own pending writes. A row
// written by an open transaction is held by it until commit or rollback:
// writes to that row from any other transaction affect zero rows, which
// mirrors a row lock taken with NOWAIT and surfaces as a concurrent
// update to the caller.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xraph/flowcore"
	"github.com/xraph/flowcore/history"
	"github.com/xraph/flowcore/id"
	"github.com/xraph/flowcore/job"
	"github.com/xraph/flowcore/store"
)

var (
	_ job.Store        = (*Store)(nil)
	_ job.Tx           = (*Tx)(nil)
	_ history.Store    = (*Store)(nil)
	_ history.TxWriter = (*Tx)(nil)
	_ store.Store      = (*Store)(nil)
)

// Store is a fully in-memory implementation of job.Store and
// history.Store. Safe for concurrent access.
type Store struct {
	mu sync.Mutex

	jobs    map[string]*job.Job
	holders map[string]*Tx
	history []*history.Record
	closed  bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:    make(map[string]*job.Job),
		holders: make(map[string]*Tx),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping fails once the store is closed.
func (m *Store) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return flowcore.ErrStoreClosed
	}
	return nil
}

// Close makes every later Begin fail.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Begin starts a transaction.
func (m *Store) Begin(_ context.Context) (job.Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, flowcore.ErrStoreClosed
	}
	return &Tx{store: m, writes: make(map[string]*job.Job)}, nil
}

// ──────────────────────────────────────────────────
// Committed-state inspection
// ──────────────────────────────────────────────────

// Jobs returns copies of every committed job, ordered by due date then id.
func (m *Store) Jobs() []*job.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j.Clone())
	}
	sortJobs(out)
	return out
}

// Job returns a copy of the committed job with the given id.
func (m *Store) Job(jobID id.JobID) (*job.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, false
	}
	return j.Clone(), true
}

// Put stores j as committed, bypassing transactions. Test setup only.
func (m *Store) Put(j *job.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := j.Clone()
	if cp.Rev == 0 {
		cp.Rev = 1
	}
	m.jobs[cp.ID.String()] = cp
}

// ──────────────────────────────────────────────────
// History Store
// ──────────────────────────────────────────────────

// InsertRecords appends records outside any transaction.
func (m *Store) InsertRecords(_ context.Context, records []*history.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return flowcore.ErrStoreClosed
	}
	for _, r := range records {
		cp := *r
		m.history = append(m.history, &cp)
	}
	return nil
}

// ListRecords returns committed records matching q, oldest first.
func (m *Store) ListRecords(_ context.Context, q history.Query) ([]*history.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*history.Record, 0)
	for _, r := range m.history {
		if !q.Matches(r) {
			continue
		}
		cp := *r
		out = append(out, &cp)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Transactions
// ──────────────────────────────────────────────────

// Tx is a memory store transaction. It is used by one goroutine.
type Tx struct {
	store   *Store
	writes  map[string]*job.Job // nil value marks a pending delete
	order   []string
	history []*history.Record
	done    bool
}

// view returns the row as this transaction sees it. Callers hold the
// store lock.
func (t *Tx) view(key string) (*job.Job, bool) {
	if w, ok := t.writes[key]; ok {
		return w, w != nil
	}
	j, ok := t.store.jobs[key]
	return j, ok
}

// visible returns every row this transaction sees. Callers hold the store
// lock.
func (t *Tx) visible() []*job.Job {
	out := make([]*job.Job, 0, len(t.store.jobs)+len(t.writes))
	for key, j := range t.store.jobs {
		if _, own := t.writes[key]; !own {
			out = append(out, j)
		}
	}
	for _, key := range t.order {
		if w := t.writes[key]; w != nil {
			out = append(out, w)
		}
	}
	return out
}

// hold records a pending write to key. It fails when another transaction
// holds the row. Callers hold the store lock.
func (t *Tx) hold(key string, j *job.Job) bool {
	if h, ok := t.store.holders[key]; ok && h != t {
		return false
	}
	if _, ok := t.writes[key]; !ok {
		t.order = append(t.order, key)
	}
	t.store.holders[key] = t
	t.writes[key] = j
	return true
}

func (t *Tx) lock() error {
	t.store.mu.Lock()
	if t.done {
		t.store.mu.Unlock()
		return flowcore.ErrTxDone
	}
	return nil
}

func (t *Tx) unlock() { t.store.mu.Unlock() }

// GetJob returns the job with the given id.
func (t *Tx) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	if err := t.lock(); err != nil {
		return nil, err
	}
	defer t.unlock()
	j, ok := t.view(jobID.String())
	if !ok {
		return nil, flowcore.ErrJobNotFound
	}
	return j.Clone(), nil
}

// FindDueJobs returns up to limit acquirable jobs at now.
func (t *Tx) FindDueJobs(_ context.Context, now time.Time, limit int) ([]*job.Job, error) {
	if err := t.lock(); err != nil {
		return nil, err
	}
	defer t.unlock()
	return collect(t.visible(), func(j *job.Job) bool { return j.IsAcquirable(now) }, limit, 0), nil
}

// FindExclusiveJobs returns every due exclusive job of a process instance.
func (t *Tx) FindExclusiveJobs(_ context.Context, processInstanceID string, now time.Time) ([]*job.Job, error) {
	if err := t.lock(); err != nil {
		return nil, err
	}
	defer t.unlock()
	return collect(t.visible(), func(j *job.Job) bool {
		return j.Exclusive && j.ProcessInstanceID == processInstanceID && !j.IsDead() && j.IsDue(now)
	}, 0, 0), nil
}

// FindJobs returns the jobs matching q.
func (t *Tx) FindJobs(_ context.Context, q job.Query) ([]*job.Job, error) {
	if err := t.lock(); err != nil {
		return nil, err
	}
	defer t.unlock()
	return collect(t.visible(), q.Matches, q.Limit, q.Offset), nil
}

// CountJobs counts the jobs matching q.
func (t *Tx) CountJobs(_ context.Context, q job.Query) (int64, error) {
	if err := t.lock(); err != nil {
		return 0, err
	}
	defer t.unlock()
	var n int64
	for _, j := range t.visible() {
		if q.Matches(j) {
			n++
		}
	}
	return n, nil
}

// InsertJob stages a new job.
func (t *Tx) InsertJob(_ context.Context, j *job.Job) error {
	if err := t.lock(); err != nil {
		return err
	}
	defer t.unlock()
	return t.insert(j)
}

// InsertJobs stages several new jobs.
func (t *Tx) InsertJobs(_ context.Context, js []*job.Job) error {
	if err := t.lock(); err != nil {
		return err
	}
	defer t.unlock()
	for _, j := range js {
		if err := t.insert(j); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tx) insert(j *job.Job) error {
	key := j.ID.String()
	if _, ok := t.view(key); ok {
		return fmt.Errorf("%w: %s", flowcore.ErrJobExists, key)
	}
	if !t.hold(key, j.Clone()) {
		return fmt.Errorf("%w: %s", flowcore.ErrJobExists, key)
	}
	return nil
}

// UpdateJob stages j if the row is at revision j.Rev and not held by
// another transaction.
func (t *Tx) UpdateJob(_ context.Context, j *job.Job) (int64, error) {
	if err := t.lock(); err != nil {
		return 0, err
	}
	defer t.unlock()
	key := j.ID.String()
	current, ok := t.view(key)
	if !ok || current.Rev != j.Rev {
		return 0, nil
	}
	cp := j.Clone()
	cp.Rev = j.Rev + 1
	if !t.hold(key, cp) {
		return 0, nil
	}
	return 1, nil
}

// DeleteJob stages the removal of j if the row is at revision j.Rev and
// not held by another transaction.
func (t *Tx) DeleteJob(_ context.Context, j *job.Job) (int64, error) {
	if err := t.lock(); err != nil {
		return 0, err
	}
	defer t.unlock()
	key := j.ID.String()
	current, ok := t.view(key)
	if !ok || current.Rev != j.Rev {
		return 0, nil
	}
	if !t.hold(key, nil) {
		return 0, nil
	}
	return 1, nil
}

// InsertHistory stages history records in this transaction.
func (t *Tx) InsertHistory(_ context.Context, records []*history.Record) error {
	if err := t.lock(); err != nil {
		return err
	}
	defer t.unlock()
	for _, r := range records {
		cp := *r
		t.history = append(t.history, &cp)
	}
	return nil
}

// Commit applies every staged write at once and releases held rows.
func (t *Tx) Commit(_ context.Context) error {
	if err := t.lock(); err != nil {
		return err
	}
	defer t.unlock()
	for _, key := range t.order {
		if w := t.writes[key]; w == nil {
			delete(t.store.jobs, key)
		} else {
			t.store.jobs[key] = w
		}
	}
	t.store.history = append(t.store.history, t.history...)
	t.release()
	return nil
}

// Rollback discards staged writes and releases held rows.
func (t *Tx) Rollback(_ context.Context) error {
	if err := t.lock(); err != nil {
		return err
	}
	defer t.unlock()
	t.release()
	return nil
}

func (t *Tx) release() {
	for _, key := range t.order {
		if t.store.holders[key] == t {
			delete(t.store.holders, key)
		}
	}
	t.writes, t.order, t.history = nil, nil, nil
	t.done = true
}

func collect(js []*job.Job, keep func(*job.Job) bool, limit, offset int) []*job.Job {
	matched := make([]*job.Job, 0, len(js))
	for _, j := range js {
		if keep(j) {
			matched = append(matched, j)
		}
	}
	sortJobs(matched)
	if offset > 0 {
		if offset >= len(matched) {
			return []*job.Job{}
		}
		matched = matched[offset:]
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]*job.Job, len(matched))
	for i, j := range matched {
		out[i] = j.Clone()
	}
	return out
}

func sortJobs(js []*job.Job) {
	sort.Slice(js, func(a, b int) bool {
		if !js[a].DueDate.Equal(js[b].DueDate) {
			return js[a].DueDate.Before(js[b].DueDate)
		}
		return id.Compare(js[a].ID, js[b].ID) < 0
	})
}

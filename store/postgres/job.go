package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/flowcore"
	"github.com/xraph/flowcore/id"
	"github.com/xraph/flowcore/job"
)

const jobColumns = `
	id, type, kind, due_date, lock_owner, lock_expiration_time,
	retries, attempts, exception_message, exception_detail,
	execution_id, process_instance_id, process_definition_id,
	exclusive, tenant_id, repeat, handler_config, revision, created_at`

// Tx is one unit-of-work transaction.
type Tx struct {
	tx pgx.Tx
	// guarded writes run under a savepoint so a lock timeout does not
	// abort the whole transaction.
	guarded bool
}

// GetJob retrieves a job by ID.
func (t *Tx) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM flowcore_jobs WHERE id = $1`, jobID.String())

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, flowcore.ErrJobNotFound
		}
		return nil, fmt.Errorf("flowcore/postgres: get job: %w", err)
	}
	return j, nil
}

// FindDueJobs returns up to limit acquirable jobs at now, oldest due first.
func (t *Tx) FindDueJobs(ctx context.Context, now time.Time, limit int) ([]*job.Job, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+jobColumns+`
		FROM flowcore_jobs
		WHERE retries > 0
		  AND due_date <= $1
		  AND (lock_owner = '' OR lock_expiration_time IS NULL OR lock_expiration_time < $1)
		ORDER BY due_date ASC, id ASC
		LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("flowcore/postgres: find due jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// FindExclusiveJobs returns every due exclusive job of a process instance,
// locked or not.
func (t *Tx) FindExclusiveJobs(ctx context.Context, processInstanceID string, now time.Time) ([]*job.Job, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+jobColumns+`
		FROM flowcore_jobs
		WHERE exclusive
		  AND process_instance_id = $1
		  AND retries > 0
		  AND due_date <= $2
		ORDER BY due_date ASC, id ASC`,
		processInstanceID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("flowcore/postgres: find exclusive jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// FindJobs returns the jobs matching q.
func (t *Tx) FindJobs(ctx context.Context, q job.Query) ([]*job.Job, error) {
	where, args := jobFilter(q)
	query := `SELECT ` + jobColumns + ` FROM flowcore_jobs` + where + ` ORDER BY due_date ASC, id ASC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("flowcore/postgres: find jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching q. Limit and Offset are
// ignored.
func (t *Tx) CountJobs(ctx context.Context, q job.Query) (int64, error) {
	where, args := jobFilter(q)

	var count int64
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM flowcore_jobs`+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("flowcore/postgres: count jobs: %w", err)
	}
	return count, nil
}

const insertJobSQL = `
	INSERT INTO flowcore_jobs (` + jobColumns + `) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		$11, $12, $13, $14, $15, $16, $17, $18, $19
	)`

// InsertJob persists a new job.
func (t *Tx) InsertJob(ctx context.Context, j *job.Job) error {
	if _, err := t.tx.Exec(ctx, insertJobSQL, jobArgs(j)...); err != nil {
		if isDuplicateKey(err) {
			return flowcore.ErrJobExists
		}
		return fmt.Errorf("flowcore/postgres: insert job: %w", err)
	}
	return nil
}

// InsertJobs persists new jobs in one round trip.
func (t *Tx) InsertJobs(ctx context.Context, js []*job.Job) error {
	batch := &pgx.Batch{}
	for _, j := range js {
		batch.Queue(insertJobSQL, jobArgs(j)...)
	}
	results := t.tx.SendBatch(ctx, batch)
	for range js {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			if isDuplicateKey(err) {
				return flowcore.ErrJobExists
			}
			return fmt.Errorf("flowcore/postgres: insert jobs: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("flowcore/postgres: insert jobs: %w", err)
	}
	return nil
}

// UpdateJob writes j if the stored row is still at j's revision, moving it
// to the next revision. It returns the number of rows affected.
func (t *Tx) UpdateJob(ctx context.Context, j *job.Job) (int64, error) {
	return t.write(ctx, "update job", `
		UPDATE flowcore_jobs SET
			due_date = $3, lock_owner = $4, lock_expiration_time = $5,
			retries = $6, attempts = $7, exception_message = $8,
			exception_detail = $9, execution_id = $10, exclusive = $11,
			repeat = $12, handler_config = $13, revision = $2 + 1
		WHERE id = $1 AND revision = $2`,
		j.ID.String(), j.Rev,
		j.DueDate.UTC(), j.LockOwner, nullTime(j.LockExpirationTime),
		j.Retries, j.Attempts, j.ExceptionMessage,
		j.ExceptionDetail, j.ExecutionID, j.Exclusive,
		j.Repeat, j.HandlerConfig,
	)
}

// DeleteJob removes j if the stored row is still at j's revision.
func (t *Tx) DeleteJob(ctx context.Context, j *job.Job) (int64, error) {
	return t.write(ctx, "delete job",
		`DELETE FROM flowcore_jobs WHERE id = $1 AND revision = $2`,
		j.ID.String(), j.Rev,
	)
}

// write runs a revision-guarded statement. A lock timeout counts as a lost
// race.
func (t *Tx) write(ctx context.Context, what, sql string, args ...any) (int64, error) {
	if !t.guarded {
		tag, err := t.tx.Exec(ctx, sql, args...)
		if err != nil {
			return 0, fmt.Errorf("flowcore/postgres: %s: %w", what, err)
		}
		return tag.RowsAffected(), nil
	}

	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("flowcore/postgres: %s: savepoint: %w", what, err)
	}
	tag, err := sp.Exec(ctx, sql, args...)
	if err != nil {
		_ = sp.Rollback(ctx)
		if isLockNotAvailable(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("flowcore/postgres: %s: %w", what, err)
	}
	if err := sp.Commit(ctx); err != nil {
		return 0, fmt.Errorf("flowcore/postgres: %s: release savepoint: %w", what, err)
	}
	return tag.RowsAffected(), nil
}

// Commit commits the transaction.
func (t *Tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		if errors.Is(err, pgx.ErrTxClosed) {
			return flowcore.ErrTxDone
		}
		return fmt.Errorf("flowcore/postgres: commit: %w", err)
	}
	return nil
}

// Rollback rolls the transaction back.
func (t *Tx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil {
		if errors.Is(err, pgx.ErrTxClosed) {
			return flowcore.ErrTxDone
		}
		return fmt.Errorf("flowcore/postgres: rollback: %w", err)
	}
	return nil
}

// jobFilter builds the WHERE clause for q.
func jobFilter(q job.Query) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if q.Type != "" {
		add("type = $%d", q.Type)
	}
	if q.ProcessInstanceID != "" {
		add("process_instance_id = $%d", q.ProcessInstanceID)
	}
	if q.ExecutionID != "" {
		add("execution_id = $%d", q.ExecutionID)
	}
	if q.TenantID != "" {
		add("tenant_id = $%d", q.TenantID)
	}
	if q.OnlyDead {
		conds = append(conds, "retries <= 0")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func jobArgs(j *job.Job) []any {
	return []any{
		j.ID.String(), j.Type, string(j.Kind), j.DueDate.UTC(), j.LockOwner, nullTime(j.LockExpirationTime),
		j.Retries, j.Attempts, j.ExceptionMessage, j.ExceptionDetail,
		j.ExecutionID, j.ProcessInstanceID, j.ProcessDefinitionID,
		j.Exclusive, j.TenantID, j.Repeat, j.HandlerConfig, j.Rev, j.CreatedAt.UTC(),
	}
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j       job.Job
		idStr   string
		kindStr string
		lockExp *time.Time
	)
	err := row.Scan(
		&idStr, &j.Type, &kindStr, &j.DueDate, &j.LockOwner, &lockExp,
		&j.Retries, &j.Attempts, &j.ExceptionMessage, &j.ExceptionDetail,
		&j.ExecutionID, &j.ProcessInstanceID, &j.ProcessDefinitionID,
		&j.Exclusive, &j.TenantID, &j.Repeat, &j.HandlerConfig, &j.Rev, &j.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Kind = job.Kind(kindStr)
	j.DueDate = j.DueDate.UTC()
	j.CreatedAt = j.CreatedAt.UTC()
	if lockExp != nil {
		j.LockExpirationTime = lockExp.UTC()
	}

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("flowcore/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("flowcore/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("flowcore/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}

package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/flowcore/history"
	"github.com/xraph/flowcore/id"
)

const historyColumns = `
	id, job_id, job_type, process_instance_id, execution_id, tenant_id,
	outcome, message, lock_owner, attempt, duration_ns, recorded_at`

const insertHistorySQL = `
	INSERT INTO flowcore_job_history (` + historyColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

// querier is satisfied by both pgx.Tx and *pgxpool.Pool.
type querier interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// InsertHistory writes records in the job transaction.
func (t *Tx) InsertHistory(ctx context.Context, records []*history.Record) error {
	return insertRecords(ctx, t.tx, records)
}

// InsertRecords implements history.Store.
func (s *Store) InsertRecords(ctx context.Context, records []*history.Record) error {
	return insertRecords(ctx, s.pool, records)
}

// ListRecords implements history.Store. Records are returned oldest first.
func (s *Store) ListRecords(ctx context.Context, q history.Query) ([]*history.Record, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if !q.JobID.IsNil() {
		add("job_id = $%d", q.JobID.String())
	}
	if q.ProcessInstanceID != "" {
		add("process_instance_id = $%d", q.ProcessInstanceID)
	}
	if q.Outcome != "" {
		add("outcome = $%d", string(q.Outcome))
	}

	query := `SELECT ` + historyColumns + ` FROM flowcore_job_history`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY recorded_at ASC, id ASC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	return queryRecords(ctx, s.pool, query, args...)
}

func insertRecords(ctx context.Context, db querier, records []*history.Record) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(insertHistorySQL,
			r.ID.String(), r.JobID.String(), r.JobType, r.ProcessInstanceID, r.ExecutionID, r.TenantID,
			string(r.Outcome), r.Message, r.LockOwner, r.Attempt, int64(r.Duration), r.RecordedAt.UTC(),
		)
	}

	results := db.SendBatch(ctx, batch)
	for range records {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("flowcore/postgres: insert history: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("flowcore/postgres: insert history: %w", err)
	}
	return nil
}

func queryRecords(ctx context.Context, db querier, query string, args ...any) ([]*history.Record, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("flowcore/postgres: list history: %w", err)
	}
	defer rows.Close()

	var records []*history.Record
	for rows.Next() {
		var (
			r          history.Record
			idStr      string
			jobIDStr   string
			outcome    string
			durationNS int64
		)
		if err := rows.Scan(
			&idStr, &jobIDStr, &r.JobType, &r.ProcessInstanceID, &r.ExecutionID, &r.TenantID,
			&outcome, &r.Message, &r.LockOwner, &r.Attempt, &durationNS, &r.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("flowcore/postgres: scan history row: %w", err)
		}

		if r.ID, err = id.ParseHistoryID(idStr); err != nil {
			return nil, fmt.Errorf("flowcore/postgres: parse history id %q: %w", idStr, err)
		}
		if r.JobID, err = id.ParseJobID(jobIDStr); err != nil {
			return nil, fmt.Errorf("flowcore/postgres: parse job id %q: %w", jobIDStr, err)
		}
		r.Outcome = history.Outcome(outcome)
		r.Duration = time.Duration(durationNS)
		r.RecordedAt = r.RecordedAt.UTC()

		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("flowcore/postgres: iterate history rows: %w", err)
	}
	return records, nil
}

// Package history records the outcome of every job execution.
//
// Records are staged in a [Session] and written when the unit of work
// closes. When the job store transaction can write history itself
// ([TxWriter]), records commit atomically with the job's deletion or
// reschedule. Otherwise they go to a separate [Store] after the unit
// commits.
package history

import (
	"context"
	"time"

	"github.com/xraph/flowcore/id"
)

// Outcome is how a job execution ended.
type Outcome string

const (
	// OutcomeCompleted means the handler succeeded and the job was deleted.
	OutcomeCompleted Outcome = "completed"
	// OutcomeFailed means the handler failed and the job was rescheduled.
	OutcomeFailed Outcome = "failed"
	// OutcomeDead means the handler failed with no retries left.
	OutcomeDead Outcome = "dead"
)

// Record is one job execution.
type Record struct {
	ID                id.HistoryID  `json:"id" bson:"_id"`
	JobID             id.JobID      `json:"job_id" bson:"job_id"`
	JobType           string        `json:"job_type" bson:"job_type"`
	ProcessInstanceID string        `json:"process_instance_id,omitempty" bson:"process_instance_id,omitempty"`
	ExecutionID       string        `json:"execution_id,omitempty" bson:"execution_id,omitempty"`
	TenantID          string        `json:"tenant_id,omitempty" bson:"tenant_id,omitempty"`
	Outcome           Outcome       `json:"outcome" bson:"outcome"`
	Message           string        `json:"message,omitempty" bson:"message,omitempty"`
	LockOwner         string        `json:"lock_owner,omitempty" bson:"lock_owner,omitempty"`
	Attempt           int           `json:"attempt" bson:"attempt"`
	Duration          time.Duration `json:"duration" bson:"duration"`
	RecordedAt        time.Time     `json:"recorded_at" bson:"recorded_at"`
}

// Query filters history listings. Zero fields match everything.
type Query struct {
	JobID             id.JobID
	ProcessInstanceID string
	Outcome           Outcome
	// Limit caps the result. Zero means no limit.
	Limit int
}

// Matches reports whether r satisfies every filter of q.
func (q Query) Matches(r *Record) bool {
	switch {
	case !q.JobID.IsNil() && r.JobID.String() != q.JobID.String():
		return false
	case q.ProcessInstanceID != "" && r.ProcessInstanceID != q.ProcessInstanceID:
		return false
	case q.Outcome != "" && r.Outcome != q.Outcome:
		return false
	}
	return true
}

// Store persists history records outside the job store transaction.
type Store interface {
	InsertRecords(ctx context.Context, records []*Record) error
	ListRecords(ctx context.Context, q Query) ([]*Record, error)
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// TxWriter is implemented by job store transactions that can write
// history rows in the same transaction.
type TxWriter interface {
	InsertHistory(ctx context.Context, records []*Record) error
}

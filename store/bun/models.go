package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/flowcore/history"
	"github.com/xraph/flowcore/id"
)

type recordModel struct {
	bun.BaseModel `bun:"table:flowcore_job_history"`

	ID                string    `bun:"id,pk"`
	JobID             string    `bun:"job_id,notnull"`
	JobType           string    `bun:"job_type,notnull"`
	ProcessInstanceID string    `bun:"process_instance_id,notnull,default:''"`
	ExecutionID       string    `bun:"execution_id,notnull,default:''"`
	TenantID          string    `bun:"tenant_id,notnull,default:''"`
	Outcome           string    `bun:"outcome,notnull"`
	Message           string    `bun:"message,notnull,default:''"`
	LockOwner         string    `bun:"lock_owner,notnull,default:''"`
	Attempt           int       `bun:"attempt,notnull,default:0"`
	DurationNS        int64     `bun:"duration_ns,notnull,default:0"`
	RecordedAt        time.Time `bun:"recorded_at,notnull,default:current_timestamp"`
}

func toRecordModel(r *history.Record) *recordModel {
	return &recordModel{
		ID:                r.ID.String(),
		JobID:             r.JobID.String(),
		JobType:           r.JobType,
		ProcessInstanceID: r.ProcessInstanceID,
		ExecutionID:       r.ExecutionID,
		TenantID:          r.TenantID,
		Outcome:           string(r.Outcome),
		Message:           r.Message,
		LockOwner:         r.LockOwner,
		Attempt:           r.Attempt,
		DurationNS:        r.Duration.Nanoseconds(),
		RecordedAt:        r.RecordedAt.UTC(),
	}
}

func fromRecordModel(m *recordModel) (*history.Record, error) {
	recID, err := id.ParseHistoryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("flowcore/bun: parse history id %q: %w", m.ID, err)
	}
	jobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("flowcore/bun: parse job id %q: %w", m.JobID, err)
	}
	return &history.Record{
		ID:                recID,
		JobID:             jobID,
		JobType:           m.JobType,
		ProcessInstanceID: m.ProcessInstanceID,
		ExecutionID:       m.ExecutionID,
		TenantID:          m.TenantID,
		Outcome:           history.Outcome(m.Outcome),
		Message:           m.Message,
		LockOwner:         m.LockOwner,
		Attempt:           m.Attempt,
		Duration:          time.Duration(m.DurationNS),
		RecordedAt:        m.RecordedAt.UTC(),
	}, nil
}

package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/flowcore/history"
	"github.com/xraph/flowcore/id"
)

type recordDoc struct {
	ID                string    `bson:"_id"`
	JobID             string    `bson:"job_id"`
	JobType           string    `bson:"job_type"`
	ProcessInstanceID string    `bson:"process_instance_id,omitempty"`
	ExecutionID       string    `bson:"execution_id,omitempty"`
	TenantID          string    `bson:"tenant_id,omitempty"`
	Outcome           string    `bson:"outcome"`
	Message           string    `bson:"message,omitempty"`
	LockOwner         string    `bson:"lock_owner,omitempty"`
	Attempt           int       `bson:"attempt"`
	DurationNS        int64     `bson:"duration_ns"`
	RecordedAt        time.Time `bson:"recorded_at"`
}

func toRecordDoc(r *history.Record) *recordDoc {
	return &recordDoc{
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

func fromRecordDoc(d *recordDoc) (*history.Record, error) {
	recID, err := id.ParseHistoryID(d.ID)
	if err != nil {
		return nil, fmt.Errorf("flowcore/mongo: parse history id %q: %w", d.ID, err)
	}
	jobID, err := id.ParseJobID(d.JobID)
	if err != nil {
		return nil, fmt.Errorf("flowcore/mongo: parse job id %q: %w", d.JobID, err)
	}
	return &history.Record{
		ID:                recID,
		JobID:             jobID,
		JobType:           d.JobType,
		ProcessInstanceID: d.ProcessInstanceID,
		ExecutionID:       d.ExecutionID,
		TenantID:          d.TenantID,
		Outcome:           history.Outcome(d.Outcome),
		Message:           d.Message,
		LockOwner:         d.LockOwner,
		Attempt:           d.Attempt,
		Duration:          time.Duration(d.DurationNS),
		RecordedAt:        d.RecordedAt.UTC(),
	}, nil
}

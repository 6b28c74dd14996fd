package job

import (
	"time"

	"github.com/xraph/flowcore/id"
)

// Kind distinguishes timers from asynchronous continuations.
type Kind string

const (
	// KindTimer fires at DueDate, optionally repeating on a cron cycle.
	KindTimer Kind = "timer"
	// KindMessage is an asynchronous continuation, due as soon as created.
	KindMessage Kind = "message"
)

// Job is one unit of deferred work.
type Job struct {
	ID                  id.JobID  `json:"id"`
	Type                string    `json:"type"`
	Kind                Kind      `json:"kind"`
	DueDate             time.Time `json:"due_date"`
	LockOwner           string    `json:"lock_owner,omitempty"`
	LockExpirationTime  time.Time `json:"lock_expiration_time,omitzero"`
	Retries             int       `json:"retries"`
	Attempts            int       `json:"attempts"`
	ExceptionMessage    string    `json:"exception_message,omitempty"`
	ExceptionDetail     string    `json:"exception_detail,omitempty"`
	ExecutionID         string    `json:"execution_id,omitempty"`
	ProcessInstanceID   string    `json:"process_instance_id,omitempty"`
	ProcessDefinitionID string    `json:"process_definition_id,omitempty"`
	Exclusive           bool      `json:"exclusive"`
	TenantID            string    `json:"tenant_id,omitempty"`
	// Repeat is a cron expression; timers with one are rescheduled after
	// every successful run.
	Repeat        string    `json:"repeat,omitempty"`
	HandlerConfig []byte    `json:"handler_config,omitempty"`
	Rev           int       `json:"revision"`
	CreatedAt     time.Time `json:"created_at"`
}

// EntityID implements persistence.Entity.
func (j *Job) EntityID() string { return j.ID.String() }

// Revision implements persistence.Entity.
func (j *Job) Revision() int { return j.Rev }

// SetRevision implements persistence.Entity.
func (j *Job) SetRevision(rev int) { j.Rev = rev }

type state struct {
	DueDate            time.Time
	LockOwner          string
	LockExpirationTime time.Time
	Retries            int
	Attempts           int
	ExceptionMessage   string
	ExceptionDetail    string
	ExecutionID        string
	Exclusive          bool
	Repeat             string
	HandlerConfig      []byte
}

// PersistentState implements persistence.Entity. Identity and creation
// fields never change and are left out.
func (j *Job) PersistentState() any {
	return state{
		DueDate:            j.DueDate.UTC(),
		LockOwner:          j.LockOwner,
		LockExpirationTime: j.LockExpirationTime.UTC(),
		Retries:            j.Retries,
		Attempts:           j.Attempts,
		ExceptionMessage:   j.ExceptionMessage,
		ExceptionDetail:    j.ExceptionDetail,
		ExecutionID:        j.ExecutionID,
		Exclusive:          j.Exclusive,
		Repeat:             j.Repeat,
		HandlerConfig:      j.HandlerConfig,
	}
}

// IsDue reports whether the job's due date has passed at now.
func (j *Job) IsDue(now time.Time) bool { return !j.DueDate.After(now) }

// IsLocked reports whether the job is held under an unexpired lease at now.
// A lease expiring exactly at now still holds.
func (j *Job) IsLocked(now time.Time) bool {
	return j.LockOwner != "" && !j.LockExpirationTime.Before(now)
}

// IsDead reports whether the job has exhausted its retries.
func (j *Job) IsDead() bool { return j.Retries <= 0 }

// IsAcquirable reports whether acquisition may lock the job at now.
func (j *Job) IsAcquirable(now time.Time) bool {
	return !j.IsDead() && j.IsDue(now) && !j.IsLocked(now)
}

// Lock sets the lease fields.
func (j *Job) Lock(owner string, until time.Time) {
	j.LockOwner, j.LockExpirationTime = owner, until
}

// Unlock clears the lease fields.
func (j *Job) Unlock() {
	j.LockOwner, j.LockExpirationTime = "", time.Time{}
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	c := *j
	if j.HandlerConfig != nil {
		c.HandlerConfig = append([]byte(nil), j.HandlerConfig...)
	}
	return &c
}

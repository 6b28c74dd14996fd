package flowcore

import (
	"errors"
	"fmt"
)

var (
	// Configuration errors. Structural misuse; never retried.
	ErrConfiguration = errors.New("flowcore: configuration error")

	// Concurrency errors. The command lost an optimistic-lock race and
	// nothing it staged was committed, so it may be retried as a whole.
	ErrConcurrentUpdate = errors.New("flowcore: concurrent update")

	// Store errors.
	ErrNoStore     = errors.New("flowcore: no store configured")
	ErrStoreClosed = errors.New("flowcore: store closed")
	ErrTxDone      = errors.New("flowcore: transaction already committed or rolled back")

	// Conflict errors.
	ErrJobExists = errors.New("flowcore: job already exists")
	// ErrJobLocked marks a job that another node leased first. Expected
	// between competing acquirers; never retried.
	ErrJobLocked = errors.New("flowcore: job locked by another node")

	// Not found errors.
	ErrJobNotFound = errors.New("flowcore: job not found")
	ErrNoHandler   = errors.New("flowcore: no handler registered for job type")

	// Scheduling errors.
	ErrPoolFull   = errors.New("flowcore: execution pool queue is full")
	ErrPoolClosed = errors.New("flowcore: execution pool is not running")
	ErrJobDead    = errors.New("flowcore: job has no retries left")
)

// ConfigurationError describes a structural misuse of the engine: chaining
// past the invoker, a missing session factory, a duplicate registration.
type ConfigurationError struct {
	Reason string
}

// Configurationf builds a ConfigurationError from a format string.
func Configurationf(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

func (e *ConfigurationError) Error() string {
	return "flowcore: configuration error: " + e.Reason
}

// Is reports whether target is ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// ConcurrentUpdateError is raised by a flush whose update or delete matched
// no row at the expected revision.
type ConcurrentUpdateError struct {
	Entity   string
	ID       string
	Revision int
}

func (e *ConcurrentUpdateError) Error() string {
	return fmt.Sprintf("flowcore: %s %s was updated by another transaction (expected revision %d)",
		e.Entity, e.ID, e.Revision)
}

// Is reports whether target is ErrConcurrentUpdate.
func (e *ConcurrentUpdateError) Is(target error) bool { return target == ErrConcurrentUpdate }

// PanicError wraps a value recovered from a panicking command so it can
// travel through the unit-of-work close sequence like any other failure.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("flowcore: panic: %v", e.Value)
}

// Unwrap returns the panic value when it is itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// JobExecutionError is a handler failure observed by a worker. It is turned
// into a retry decrement and never reaches the acquisition loop.
type JobExecutionError struct {
	JobID string
	Type  string
	Err   error
}

func (e *JobExecutionError) Error() string {
	return fmt.Sprintf("flowcore: job %s (%s) failed: %v", e.JobID, e.Type, e.Err)
}

func (e *JobExecutionError) Unwrap() error { return e.Err }

// IsRetryable reports whether a command that failed with err may be
// re-executed from scratch.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentUpdate)
}

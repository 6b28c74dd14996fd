// Package ext is the flowcore extension system.
//
// Extensions are notified of job lifecycle events and react to them, for
// example by recording metrics or writing audit logs. A hook error is
// logged and never changes the outcome of the job.
//
// # Implementing an Extension
//
//	type Auditor struct{}
//
//	func (a *Auditor) Name() string { return "auditor" }
//
//	func (a *Auditor) OnJobDead(ctx context.Context, j *job.Job, err error) error {
//	    log.Printf("job %s is dead: %v", j.ID, err)
//	    return nil
//	}
//
// # Hooks
//
//   - [AcquisitionCycle]: an acquisition query ran
//   - [JobAcquired]: this node locked a job
//   - [JobStarted]: a worker began executing a job
//   - [JobCompleted]: the job's unit of work committed
//   - [JobRetrying]: the job failed and was rescheduled
//   - [JobDead]: the job failed with no retries left
//   - [Shutdown]: the engine is stopping
//
// The [Registry] fans out each event to every registered extension that
// implements the corresponding hook interface, in registration order.
package ext

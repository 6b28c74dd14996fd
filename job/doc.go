// Package job defines the job entity, its store contract, the per-unit job
// session and the handler registry.
//
// # Lifecycle
//
// A [Job] is deferred work: a timer that fires once or on a cron cycle, or
// a message (asynchronous continuation). It moves through
//
//	scheduled → due → locked → executing → deleted
//	                                     → rescheduled (retries-1, due date pushed)
//	                                     → dead (retries == 0)
//
// Jobs are created with [Session.Schedule] inside the unit of work of the
// state change that needs them. The scheduler is notified only after that
// unit commits. Dead jobs are never acquired again; they are listed by
// [ListDeadJobs] and revived with [SetRetries].
//
// # Handlers
//
// A job's Type is resolved through a [Registry] built once at startup:
//
//	reg, err := job.NewRegistry(
//	    job.Define("send-reminder", func(ctx context.Context, u *uow.UnitOfWork, j *job.Job, cfg Reminder) error {
//	        return mailer.Send(ctx, cfg.To)
//	    }),
//	)
//
// Handlers run at least once per due occurrence and must tolerate replay.
package job

// Package flowcore is the transactional core of a business-process engine:
// a command pipeline that runs every state mutation inside a unit of work,
// and a job scheduler that locks, executes, retries and recovers deferred
// work (timers, asynchronous continuations) across competing workers.
//
// # Quick Start
//
//	eng, err := engine.New(pgStore,
//	    engine.WithConfig(cfg),
//	    engine.WithHandlers(sendInvoice, escalate),
//	)
//	if err != nil { ... }
//	if err := eng.Start(ctx); err != nil { ... }
//	defer eng.Stop(ctx)
//
//	_, err = command.Execute(ctx, eng.Pipeline(), job.CreateTimer(job.TimerSpec{
//	    Type:    "escalate",
//	    DueDate: time.Now().Add(time.Hour),
//	}))
//
// # Architecture
//
// The root package holds configuration and the error taxonomy. Subsystems
// (uow, command, job, acquisition, worker) each define their own contracts;
// store backends implement the job and history store interfaces. The engine
// package wires everything together.
//
// Execution is at-least-once: a job whose worker dies keeps its lock until
// the lease expires and is then acquired again, so handlers must tolerate
// replay.
package flowcore
